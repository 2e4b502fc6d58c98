// Package services defines shared utilities consumed by the aco engines,
// the pipeline runner, and the HTTP layer.
//
// Key responsibilities:
//   - Context helpers that stamp run ids, steps, attempt ids, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper; HTTPStatus and Detail
//     translate marked errors into API responses.
//
// Subpackages hold the external integrations (LLM completions, uv environments).
package services
