package errors

import (
	"fmt"
	"net/http"
	"strings"
)

type Fields map[string]interface{}

// APIError is an error with a stable numeric code and the HTTP status it maps to.
type APIError interface {
	Error() string
	Message() string
	Code() int
	SetDetail(str string, a ...any) APIError
	SetFields(d Fields) APIError
	GetFields() Fields
	ExpectedHTTPStatus() int
}

type apiError struct {
	message            string
	code               int
	fields             Fields
	expectedHttpStatus int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("[%d] %s", e.code, strings.ToLower(e.message))
}

func (e *apiError) Message() string {
	return e.message
}

func (e *apiError) Code() int {
	return e.code
}

func (e *apiError) SetDetail(str string, a ...any) APIError {
	e.message = e.message + ": " + fmt.Sprintf(str, a...)
	return e
}

func (e *apiError) SetFields(d Fields) APIError {
	e.fields = d
	return e
}

func (e *apiError) GetFields() Fields {
	return e.fields
}

func (e *apiError) ExpectedHTTPStatus() int {
	return e.expectedHttpStatus
}

func define(code int, message string, httpStatus int) func() APIError {
	return func() APIError {
		return &apiError{
			message:            message,
			code:               code,
			fields:             Fields{},
			expectedHttpStatus: httpStatus,
		}
	}
}

var (
	// Generic Client Errors
	ErrUnauthorized         = define(70401, "Authorization Required", http.StatusUnauthorized)
	ErrInvalidRequest       = define(70410, "Invalid Request", http.StatusBadRequest)
	ErrUnknownRoute         = define(70440, "Unknown Route", http.StatusNotFound)
	ErrUnknownUser          = define(70442, "Unknown User", http.StatusNotFound)
	ErrMissingRequiredField = define(70444, "Missing Required Field", http.StatusBadRequest)

	// Server Errors
	ErrInternalServerError       = define(70500, "Internal Server Error", http.StatusInternalServerError)
	ErrMissingInternalDependency = define(70503, "Missing Internal Dependency", http.StatusServiceUnavailable)
	ErrReconcilerUnavailable     = define(70504, "Presence Reconciler Unavailable", http.StatusServiceUnavailable)
)
