package httpserver

import (
	"net/http"
)

// errorKind classifies a failed request. The body shape never depends on the
// status policy; only the HTTP status does.
type errorKind string

const (
	kindValidation         errorKind = "validation"
	kindMissingToken       errorKind = "missing_token"
	kindInvalidToken       errorKind = "invalid_token"
	kindUserNotFound       errorKind = "user_not_found"
	kindIncorrectPassword  errorKind = "incorrect_password"
	kindInvalidImageFormat errorKind = "invalid_image_format"
	kindMissingImageFile   errorKind = "missing_image_file"
	kindNotFound           errorKind = "not_found"
	kindAccessDenied       errorKind = "access_denied"
	kindInternal           errorKind = "internal"
)

const (
	msgMissingToken       = "missing token"
	msgInvalidToken       = "invalid token"
	msgUserNotFound       = "user not found"
	msgIncorrectPassword  = "incorrect password"
	msgInvalidImageFormat = "invalid image format"
	msgMissingImageFile   = "missing image file"
	msgInternal           = "internal error"
)

var strictHTTPStatus = map[errorKind]int{
	kindValidation:         http.StatusBadRequest,
	kindMissingToken:       http.StatusUnauthorized,
	kindInvalidToken:       http.StatusUnauthorized,
	kindUserNotFound:       http.StatusNotFound,
	kindIncorrectPassword:  http.StatusUnauthorized,
	kindInvalidImageFormat: http.StatusUnsupportedMediaType,
	kindMissingImageFile:   http.StatusBadRequest,
	kindNotFound:           http.StatusNotFound,
	kindAccessDenied:       http.StatusForbidden,
	kindInternal:           http.StatusInternalServerError,
}

// httpStatusForKind applies the status policy. Existing clients tell errors
// apart by body, so only unexpected failures leave 200 unless strict is set.
func httpStatusForKind(kind errorKind, strict bool) int {
	if kind == kindInternal {
		return http.StatusInternalServerError
	}
	if !strict {
		return http.StatusOK
	}
	if status, ok := strictHTTPStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}
