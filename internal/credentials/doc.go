// Package credentials resolves the LLM API key for each request.
//
// Precedence: a per-request override (X-API-Key header or api_key body field),
// then <state_dir>/credentials.toml, then llm.api_key from config (which itself
// falls back to GEMINI_API_KEY and GOOGLE_API_KEY). When none is set, Resolve
// returns ErrNoCredential tagged as a configuration error so the API answers 412.
//
// The credentials file is watched with fsnotify so a key written by another
// process is picked up by a running server.
package credentials
