// Package errs defines the error taxonomy shared by the indexing and
// retrieval pipelines.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound marks a missing tree file or directory entry.
var ErrNotFound = errors.New("not found")

// DocumentProcessingError reports an unreadable or unsupported document.
// It is fatal for that document only.
type DocumentProcessingError struct {
	Path string
	Err  error
}

func (e *DocumentProcessingError) Error() string {
	return fmt.Sprintf("process document %s: %v", e.Path, e.Err)
}

func (e *DocumentProcessingError) Unwrap() error { return e.Err }

// LLMAPIError is returned once a model call has failed permanently or
// exhausted its retries.
type LLMAPIError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *LLMAPIError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("llm %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("llm %s failed: %v", e.Op, e.Err)
}

func (e *LLMAPIError) Unwrap() error { return e.Err }

// IndexLoadError reports a missing or corrupt tree or directory file.
type IndexLoadError struct {
	Path string
	Err  error
}

func (e *IndexLoadError) Error() string {
	return fmt.Sprintf("load index %s: %v", e.Path, e.Err)
}

func (e *IndexLoadError) Unwrap() error { return e.Err }

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration %s: %s", e.Field, e.Msg)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UserMessage turns an error into a hint suitable for an end user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return "Configuration problem: " + cfgErr.Error()
	}

	switch {
	case containsAny(msg, "api key", "authentication", "unauthorized", "status 401", "status 403"):
		return "The language model rejected the credentials. Check the configured API key and, for custom providers, the base URL."
	case containsAny(msg, "rate limit", "too many requests", "status 429"):
		return "The language model is rate limiting requests. Wait a few minutes or lower requests_per_second."
	case containsAny(msg, "timeout", "deadline exceeded"):
		return "The language model did not answer in time. Retry later or raise llm.timeout."
	case containsAny(msg, "connection", "network", "no such host"):
		return "Could not reach the language model. Check network access and llm.base_url."
	case strings.Contains(msg, "model") && containsAny(msg, "not found", "does not exist"):
		return "The configured model does not exist or this key cannot use it. Check llm.model."
	}

	var loadErr *IndexLoadError
	if errors.As(err, &loadErr) {
		return "The document index could not be read. Re-run `pageindex index` or `pageindex rebuild`."
	}
	return "Unexpected error: " + err.Error()
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
