package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"aco/internal/services"
)

// ErrNoAPIKey is returned when a request is attempted without a credential.
var ErrNoAPIKey = errors.New("llm api key required")

// ContractError reports a response that could not be decoded into, or did not
// conform to, the requested schema.
type ContractError struct {
	Op      string
	Reason  string
	Snippet string
	Err     error
}

func (e *ContractError) Error() string {
	msg := fmt.Sprintf("%s: upstream contract violation: %s", e.Op, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Snippet != "" {
		msg += " (response snippet: " + e.Snippet + ")"
	}
	return msg
}

func (e *ContractError) Unwrap() error {
	return e.Err
}

// CompleteStructured asks for JSON conforming to schema, validates the reply, and
// decodes it into target. Schema violations are returned as *ContractError.
func (c *Client) CompleteStructured(ctx context.Context, req Request, schema *jsonschema.Schema, target any) error {
	const op = "llm structured"
	if schema == nil {
		return errors.New("llm structured: schema required")
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("llm structured: resolve schema: %w", err)
	}
	encoded, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("llm structured: encode schema: %w", err)
	}

	req.JSON = true
	req.System = strings.TrimSpace(req.System) +
		"\n\nRespond with a single JSON object that conforms to this JSON schema. Do not add commentary.\n" +
		string(encoded)

	content, err := c.Complete(ctx, req)
	if err != nil {
		return err
	}

	var instance any
	if err := DecodeLLMJSON(content, &instance); err != nil {
		return &ContractError{Op: op, Reason: "response is not valid JSON", Snippet: summarizePayloadSnippet(content), Err: err}
	}
	if err := resolved.Validate(instance); err != nil {
		return &ContractError{Op: op, Reason: "response does not match schema", Snippet: summarizePayloadSnippet(content), Err: err}
	}
	normalized, err := json.Marshal(instance)
	if err != nil {
		return fmt.Errorf("llm structured: re-encode payload: %w", err)
	}
	if err := json.Unmarshal(normalized, target); err != nil {
		return &ContractError{Op: op, Reason: "response has unexpected field types", Snippet: summarizePayloadSnippet(content), Err: err}
	}
	return nil
}

// WrapError attaches the service marker matching an LLM failure.
func WrapError(stage, operation string, err error) error {
	if err == nil {
		return nil
	}
	if services.Marked(err) {
		return err
	}
	marker := services.ErrUpstream
	message := "llm request failed"
	var contractErr *ContractError
	var netErr net.Error
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrNoAPIKey):
		marker = services.ErrConfiguration
		message = "no credential"
	case errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden):
		marker = services.ErrConfiguration
		message = "llm rejected the API key"
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		marker = services.ErrConfiguration
		message = "llm model or endpoint not found"
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests:
		message = "llm rate limit exceeded"
	case errors.As(err, &contractErr):
		message = "llm returned an invalid response"
	case errors.Is(err, context.DeadlineExceeded):
		marker = services.ErrTimeout
		message = "llm request timed out"
	case errors.Is(err, context.Canceled):
		marker = services.ErrTransient
		message = "llm request canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		marker = services.ErrTimeout
		message = "llm request timed out"
	}
	return services.Wrap(marker, stage, operation, message, err)
}

// SchemaFor derives a response schema from T's json and jsonschema struct tags.
// enums restricts string properties by dotted path; array properties are
// descended through their items, so "checks.priority" names the priority of each
// element of checks.
func SchemaFor[T any](enums map[string][]string) (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("derive schema: %w", err)
	}
	for path, values := range enums {
		prop := lookupProperty(schema, strings.Split(path, "."))
		if prop == nil {
			return nil, fmt.Errorf("derive schema: unknown property %q", path)
		}
		prop.Enum = prop.Enum[:0]
		for _, v := range values {
			prop.Enum = append(prop.Enum, v)
		}
	}
	return schema, nil
}

// MustSchemaFor is SchemaFor for package-level schema variables.
func MustSchemaFor[T any](enums map[string][]string) *jsonschema.Schema {
	schema, err := SchemaFor[T](enums)
	if err != nil {
		panic(err)
	}
	return schema
}

func lookupProperty(schema *jsonschema.Schema, path []string) *jsonschema.Schema {
	current := schema
	for _, name := range path {
		if current.Items != nil {
			current = current.Items
		}
		next, ok := current.Properties[name]
		if !ok || next == nil {
			return nil
		}
		current = next
	}
	if current.Items != nil {
		current = current.Items
	}
	return current
}
