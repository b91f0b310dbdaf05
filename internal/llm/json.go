package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Validator is implemented by response types that check their own shape.
type Validator interface {
	Validate() error
}

// ExtractJSON returns the first JSON object or array in a model reply.
// Code fences and surrounding prose are tolerated. A candidate that fails
// to decode is retried once with trailing commas and Python None repaired
// outside string literals.
func ExtractJSON(s string) (json.RawMessage, error) {
	s = stripCodeBlock(s)
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		if raw, ok := decodeFirst(s[i:]); ok {
			return raw, nil
		}
		if raw, ok := decodeFirst(repairJSON(s[i:])); ok {
			return raw, nil
		}
	}
	return nil, errors.New("no JSON value in response")
}

func decodeFirst(s string) (json.RawMessage, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(strings.NewReader(s)).Decode(&raw); err != nil {
		return nil, false
	}
	return raw, true
}

// repairJSON drops commas before a closing bracket and rewrites a bare None
// as null. String literals are copied unchanged.
func repairJSON(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			sb.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
		case c == ',' && closesAfter(s[i+1:]):
			continue
		case c == 'N' && strings.HasPrefix(s[i:], "None") && !identByte(s, i-1) && !identByte(s, i+4):
			sb.WriteString("null")
			i += len("None") - 1
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// closesAfter reports whether the next non-space byte closes an object or
// array.
func closesAfter(s string) bool {
	t := strings.TrimLeft(s, " \t\r\n")
	return t != "" && (t[0] == '}' || t[0] == ']')
}

func identByte(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// CallJSON sends req and decodes the reply into T. Replies that cannot be
// decoded, or that fail T's Validate, are retried.
func CallJSON[T any](ctx context.Context, c *Caller, op string, req Request) (T, error) {
	var out T
	_, err := c.Do(ctx, op, req, func(text string) error {
		raw, err := ExtractJSON(text)
		if err != nil {
			return &InvalidResponseError{Op: op, Raw: text, Err: err}
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return &InvalidResponseError{Op: op, Raw: text, Err: err}
		}
		if val, ok := any(&v).(Validator); ok {
			if err := val.Validate(); err != nil {
				return &InvalidResponseError{Op: op, Raw: text, Err: err}
			}
		}
		out = v
		return nil
	})
	return out, err
}

// IsInvalidResponse reports whether err ends in a shape validation failure.
func IsInvalidResponse(err error) bool {
	var invalidErr *InvalidResponseError
	return errors.As(err, &invalidErr)
}
