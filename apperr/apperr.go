package apperr

import (
	"errors"
	"net/http"
)

// Error is a typed application error that knows which HTTP status it maps to.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return "error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches err to a copy of base. A non-empty message replaces the base message.
func Wrap(err error, base *Error, message string) *Error {
	if err == nil {
		return nil
	}
	if base == nil {
		base = ErrInternal
	}
	wrapped := *base
	if message != "" {
		wrapped.Message = message
	}
	wrapped.Err = err
	return &wrapped
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}

func Status(err error) int {
	if e, ok := As(err); ok && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func Code(err error) string {
	if e, ok := As(err); ok && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

func Message(err error) string {
	if e, ok := As(err); ok {
		if e.Message != "" {
			return e.Message
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Code
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// Payload is the JSON body handlers answer with on failure.
func Payload(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	return map[string]any{
		"code":    Code(err),
		"message": Message(err),
	}
}

var (
	ErrBadRequest       = New("bad_request", http.StatusBadRequest, "")
	ErrMalformedPayload = New("malformed_payload", http.StatusBadRequest, "webhook payload is not valid json")
	ErrVerifyToken      = New("verify_token_mismatch", http.StatusForbidden, "Verification token mismatch")
	ErrSignature        = New("invalid_signature", http.StatusUnauthorized, "invalid signature")
	ErrRedirectURI      = New("invalid_redirect_uri", http.StatusBadRequest, "redirect_uri is not an allowed account linking url")
	ErrGraph            = New("graph_error", http.StatusBadGateway, "")
	ErrDatabase         = New("database_error", http.StatusInternalServerError, "")
	ErrInternal         = New("internal_error", http.StatusInternalServerError, "")
)
