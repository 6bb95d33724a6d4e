package provider

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("provider not found")
	ErrMissingCredential = errors.New("missing required credential")
)

// Permanent marks err as not worth retrying (bad request, rejected key, ...).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent or is a
// configuration error.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrMissingCredential) {
		return true
	}
	var p permanentError
	return errors.As(err, &p)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// StatusError is returned by HTTP providers on a non-success response.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Body)
}

// classifyStatus turns a response status into nil, a retryable error or a
// permanent one. 4xx except 408/429 will not get better on retry.
func classifyStatus(provider string, code int, body string) error {
	if code >= 200 && code < 300 {
		return nil
	}
	err := &StatusError{Provider: provider, StatusCode: code, Body: truncate(body, 200)}
	if code >= 400 && code < 500 && code != 408 && code != 429 {
		return Permanent(err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
