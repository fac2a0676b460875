package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"estate-assistant/internal/domain"
)

const requestSchemaTemplate = `{
	"type": "object",
	"required": ["messages"],
	"properties": {
		"messages": {
			"type": "array",
			"minItems": 1,
			"maxItems": %d,
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"type": "string", "enum": ["user", "assistant", "system"]},
					"content": {"type": "string", "minLength": 1, "maxLength": %d}
				}
			}
		}
	}
}`

// RequestValidator checks chat request bodies against a JSON Schema built
// from the configured message limits.
type RequestValidator struct {
	schema      *jsonschema.Schema
	maxMessages int
	maxChars    int
}

// NewRequestValidator compiles the request schema.
func NewRequestValidator(maxMessages, maxChars int) (*RequestValidator, error) {
	raw := fmt.Sprintf(requestSchemaTemplate, maxMessages, maxChars)

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("chat_request.json", strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add request schema: %w", err)
	}
	compiled, err := compiler.Compile("chat_request.json")
	if err != nil {
		return nil, fmt.Errorf("compile request schema: %w", err)
	}
	return &RequestValidator{schema: compiled, maxMessages: maxMessages, maxChars: maxChars}, nil
}

type chatRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// Decode validates body and returns its messages. Only role and content are
// kept from each entry. Failures wrap domain.ErrInvalidInput with a detail
// suitable for the caller.
func (v *RequestValidator) Decode(body []byte) ([]domain.Message, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, domain.NewDomainError("Gateway.Decode", domain.ErrInvalidInput, "request body is not valid JSON")
	}
	if err := v.schema.Validate(doc); err != nil {
		return nil, domain.NewDomainError("Gateway.Decode", domain.ErrInvalidInput, v.describe(err))
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, domain.NewDomainError("Gateway.Decode", domain.ErrInvalidInput, err.Error())
	}
	msgs := make([]domain.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = domain.Message{Role: domain.Role(m.Role), Content: m.Content}
	}
	return msgs, nil
}

// describe turns the first leaf schema failure into a short sentence.
func (v *RequestValidator) describe(err error) string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	for len(verr.Causes) > 0 {
		verr = verr.Causes[0]
	}

	at := strings.TrimPrefix(verr.InstanceLocation, "/")
	kw := verr.KeywordLocation[strings.LastIndex(verr.KeywordLocation, "/")+1:]
	switch kw {
	case "maxItems":
		return fmt.Sprintf("too many messages: a maximum of %d messages is allowed", v.maxMessages)
	case "minItems":
		return "at least one message is required"
	case "maxLength":
		return fmt.Sprintf("%s: content must be at most %d characters", at, v.maxChars)
	case "minLength":
		return fmt.Sprintf("%s: content must not be empty", at)
	case "enum":
		return fmt.Sprintf("%s: role must be one of user, assistant, system", at)
	}
	if at == "" {
		return verr.Message
	}
	return fmt.Sprintf("%s: %s", at, verr.Message)
}
