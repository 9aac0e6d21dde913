package httpErrors

import "net/http"

// Code enumerates typed error categories so the HTTP layer can map them cleanly.
type Code string

const (
	CodeInvalidInput     Code = "invalid_input"
	CodeInvalidRequest   Code = "invalid_request"
	CodeUnauthorized     Code = "unauthorized"
	CodeForbidden        Code = "forbidden"
	CodeNotFound         Code = "not_found"
	CodeConflict         Code = "conflict"
	CodeInternal         Code = "internal_error"
	CodeMissingProvider  Code = "missing_provider"
	CodeInvalidState     Code = "invalid_state"
	CodeInvalidTenant    Code = "invalid_tenant"
	CodeInvalidHost      Code = "invalid_host"
	CodeUnresolvableHost Code = "unresolvable_host"
)

// GatewayError wraps domain or infrastructure failures with a stable code.
type GatewayError struct {
	Code    Code
	Message string
	Err     error
}

func (e GatewayError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e GatewayError) Unwrap() error {
	return e.Err
}

func New(code Code, msg string) GatewayError {
	return GatewayError{Code: code, Message: msg}
}

func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeInvalidRequest,
		CodeMissingProvider, CodeInvalidState, CodeInvalidTenant,
		CodeInvalidHost, CodeUnresolvableHost:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
