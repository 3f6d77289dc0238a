package errors

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
)

// Kind sentinels. Every error that crosses a service boundary is marked with
// exactly one of them so transports can classify it without string matching.
var (
	ErrAuthentication   = new(CodeAuthentication, "authentication failed")
	ErrValidation       = new(CodeValidation, "validation error")
	ErrExternalProvider = new(CodeExternalProvider, "external provider error")
	ErrDataIntegrity    = new(CodeDataIntegrity, "data integrity violation")
	ErrNotFound         = new(CodeNotFound, "resource not found")
	ErrConfiguration    = new(CodeConfiguration, "configuration error")

	statusCodeMap = []struct {
		kind   error
		status int
	}{
		{ErrAuthentication, http.StatusUnauthorized},
		{ErrValidation, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrExternalProvider, http.StatusBadGateway},
		{ErrDataIntegrity, http.StatusInternalServerError},
		{ErrConfiguration, http.StatusInternalServerError},
	}
)

const (
	CodeAuthentication   = "authentication_error"
	CodeValidation       = "validation_error"
	CodeExternalProvider = "external_provider_error"
	CodeDataIntegrity    = "data_integrity_violation"
	CodeNotFound         = "not_found"
	CodeConfiguration    = "configuration_error"
	CodeInternal         = "internal_error"
)

// InternalError is the reference value errors are marked with.
type InternalError struct {
	Code    string
	Message string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func new(code, message string) *InternalError {
	return &InternalError{Code: code, Message: message}
}

func IsAuthentication(err error) bool   { return errors.Is(err, ErrAuthentication) }
func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
func IsExternalProvider(err error) bool { return errors.Is(err, ErrExternalProvider) }
func IsDataIntegrity(err error) bool    { return errors.Is(err, ErrDataIntegrity) }
func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsConfiguration(err error) bool    { return errors.Is(err, ErrConfiguration) }

// Code returns the machine-readable code of the kind err is marked with.
func Code(err error) string {
	for _, entry := range statusCodeMap {
		if errors.Is(err, entry.kind) {
			return entry.kind.(*InternalError).Code
		}
	}
	return CodeInternal
}

func HTTPStatusFromErr(err error) int {
	for _, entry := range statusCodeMap {
		if errors.Is(err, entry.kind) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}

// DisplayMessage returns the client-facing message: hints when present,
// otherwise the kind's generic message.
func DisplayMessage(err error) string {
	if hint := strings.TrimSpace(errors.FlattenHints(err)); hint != "" {
		return hint
	}
	for _, entry := range statusCodeMap {
		if errors.Is(err, entry.kind) {
			return entry.kind.(*InternalError).Message
		}
	}
	return "internal server error"
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
// Invalid bytes and NULs are dropped first so the result is safe to persist
// in a text column.
func Truncate(s string, n int) string {
	s = strings.ReplaceAll(strings.ToValidUTF8(s, ""), "\x00", "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
