package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"crm_backend/internal/models"
)

// ErrorKind classifies why a vendor call failed.
type ErrorKind string

const (
	// KindHTTPStatus: the vendor answered with a non-2xx status.
	KindHTTPStatus ErrorKind = "http_status"
	// KindInvalidResponse: 2xx, but the text could not be found.
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindTimeout: the shared deadline expired.
	KindTimeout ErrorKind = "timeout"
	// KindNetwork: the request never got a response.
	KindNetwork ErrorKind = "network"
)

const maxErrorBody = 512

// ErrUnsupportedProvider is returned when no adapter is registered for a type.
var ErrUnsupportedProvider = eris.New("no adapter registered for provider")

// AdapterError is the single error type adapters return.
type AdapterError struct {
	Provider   models.ProviderType
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *AdapterError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		if e.Body != "" {
			return fmt.Sprintf("%s: http status %d: %s", e.Provider, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s: http status %d", e.Provider, e.StatusCode)
	case KindTimeout:
		return fmt.Sprintf("%s: request timed out", e.Provider)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
}

func (e *AdapterError) Unwrap() error { return e.Err }

func httpStatusError(p models.ProviderType, status int, body string) *AdapterError {
	return &AdapterError{Provider: p, Kind: KindHTTPStatus, StatusCode: status, Body: truncate(body)}
}

func invalidResponseError(p models.ProviderType, reason string) *AdapterError {
	return &AdapterError{Provider: p, Kind: KindInvalidResponse, Err: errors.New(reason)}
}

// transportError classifies an error that produced no usable HTTP status.
func transportError(p models.ProviderType, err error) *AdapterError {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &AdapterError{Provider: p, Kind: KindTimeout, Err: err}
	case isDecodeError(err):
		return &AdapterError{Provider: p, Kind: KindInvalidResponse, Err: err}
	default:
		return &AdapterError{Provider: p, Kind: KindNetwork, Err: err}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func truncate(s string) string {
	if len(s) <= maxErrorBody {
		return s
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
