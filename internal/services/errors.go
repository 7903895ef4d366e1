package services

import "net/http"

// ServiceError is returned by service methods and carries the HTTP status the
// transport should respond with.
type ServiceError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Code    int    `json:"-"`
}

func (e *ServiceError) Error() string {
	return e.Name + ": " + e.Message
}

// StatusCode returns the HTTP status for the error
func (e *ServiceError) StatusCode() int {
	if e.Code == 0 {
		return http.StatusInternalServerError
	}
	return e.Code
}

// Unauthorized builds a 401 service error
func Unauthorized(msg string) *ServiceError {
	return &ServiceError{Name: "unauthorized", Message: msg, Code: http.StatusUnauthorized}
}

// BadRequest builds a 400 service error
func BadRequest(msg string) *ServiceError {
	return &ServiceError{Name: "bad_request", Message: msg, Code: http.StatusBadRequest}
}

// Unavailable builds a 503 service error
func Unavailable(msg string) *ServiceError {
	return &ServiceError{Name: "unavailable", Message: msg, Code: http.StatusServiceUnavailable}
}
