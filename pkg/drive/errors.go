package drive

import (
	"fmt"
	"net/http"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// credential related reasons reported with a 403
var authReasons = map[string]bool{
	"authError":                       true,
	"invalid_grant":                   true,
	"invalidCredentials":              true,
	"insufficientPermissions":         true,
	"ACCESS_TOKEN_SCOPE_INSUFFICIENT": true,
}

// NetworkError is a transport failure without any response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error on %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Reason
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, msg)
}

// NotFoundError is a 404, the referenced object does not exist (anymore).
type NotFoundError struct {
	*APIError
}

func (e *NotFoundError) Unwrap() error {
	return e.APIError
}

// AuthError is a 401, or a 403 caused by an invalid, expired or denied credential.
// It is never retried; the caller has to re-run the authentication flow.
type AuthError struct {
	*APIError
}

func (e *AuthError) Error() string {
	return "auth: " + e.APIError.Error()
}

func (e *AuthError) Unwrap() error {
	return e.APIError
}

// ParseError is a present but malformed response body.
type ParseError struct {
	Err    error
	Length int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse response body (%d bytes): %v", e.Length, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func IsNotFound(err error) bool {
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}

func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

type errorBody struct {
	Error            jsoniter.RawMessage `json:"error"`
	ErrorDescription string              `json:"error_description"`
}

type driveError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
	Errors  []struct {
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"errors"`
}

func newAPIError(status int, statusText string, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var eb errorBody
	if ok, err := DecodeJSON(body, &eb); ok && err == nil && len(eb.Error) > 0 {
		var de driveError
		if eb.Error[0] == '"' {
			// oauth style: {"error":"invalid_grant","error_description":"..."}
			var code string
			_ = json.Unmarshal(eb.Error, &code)
			apiErr.Reason = code
			apiErr.Message = eb.ErrorDescription
		} else if err := json.Unmarshal(eb.Error, &de); err == nil {
			apiErr.Message = de.Message
			if len(de.Errors) > 0 {
				apiErr.Reason = de.Errors[0].Reason
			} else if de.Status != "" {
				apiErr.Reason = de.Status
			}
		}
	}

	if apiErr.Message == "" && apiErr.Reason == "" {
		apiErr.Message = strings.TrimSpace(strings.TrimPrefix(statusText, fmt.Sprint(status)))
	}
	return apiErr
}

func classify(apiErr *APIError) error {
	switch {
	case apiErr.Status == http.StatusNotFound:
		return &NotFoundError{APIError: apiErr}
	case apiErr.Status == http.StatusUnauthorized,
		apiErr.Reason == "invalid_grant",
		apiErr.Status == http.StatusForbidden && authReasons[apiErr.Reason]:
		return &AuthError{APIError: apiErr}
	default:
		return apiErr
	}
}
