package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/georgeshao/o2c-triage/pkg/formatting"
)

// maxMessageRunes bounds a non-JSON error body kept on a StatusError.
const maxMessageRunes = 512

var (
	// ErrQuotaExceeded marks a call rejected because the credential ran out of quota.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrOverloaded marks a call rejected because the service is temporarily overloaded.
	ErrOverloaded = errors.New("service overloaded")
	// ErrTransport marks a call that never produced an HTTP response.
	ErrTransport = errors.New("transport failure")
)

// StatusError is a non-2xx reply from the inference service.
type StatusError struct {
	Code    int
	Status  string
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("inference status %d", e.Code)
	}
	return fmt.Sprintf("inference status %d: %s", e.Code, e.Message)
}

// Unwrap maps the two capacity conditions onto their sentinels so callers can
// use errors.Is without knowing status codes.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED":
		return ErrQuotaExceeded
	case e.Code == http.StatusServiceUnavailable || e.Status == "UNAVAILABLE":
		return ErrOverloaded
	}
	return nil
}

// IsRetryable reports whether err is a capacity failure that another
// credential or model may not hit.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrOverloaded)
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func newStatusError(code int, body []byte) *StatusError {
	se := &StatusError{Code: code}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		se.Message = env.Error.Message
		se.Status = env.Error.Status
		return se
	}

	se.Message = formatting.Truncate(strings.ToValidUTF8(string(body), "\uFFFD"), maxMessageRunes)
	return se
}
