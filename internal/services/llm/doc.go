// Package llm provides the chat completion client used by every LLM-backed
// step: understanding, strategy, script planning, code generation, notebooks,
// reports, and chat.
//
// The client speaks the OpenAI-compatible chat completions protocol and
// defaults to Gemini's compatibility endpoint. Requests are throttled through a
// shared x/time/rate limiter.
//
// # Structured output
//
// CompleteStructured appends a JSON schema to the system prompt, decodes the
// reply with DecodeLLMJSON (tolerant of code fences and surrounding prose), and
// validates it with jsonschema-go. A reply that is not JSON or does not match
// the schema is a *ContractError. Schemas are derived from tagged Go structs
// with SchemaFor.
//
// # Retry Behaviour
//
// By default each call is attempted once. WithRetryMaxAttempts enables retries
// on HTTP 408/429/5xx, network timeouts, and empty replies, with exponential
// backoff (base 1s, max 10s) and Retry-After support. Context cancellation
// aborts retries immediately.
//
// # Errors
//
// WrapError maps failures onto the service markers. A missing or rejected key
// and an unknown model are configuration errors, deadlines are timeouts, and
// everything else is upstream. Non-2xx replies surface as *APIError.
package llm
