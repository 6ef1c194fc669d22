package biometric

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the closed set of biometric failure categories.
type Kind string

// Kind values.
const (
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindNoFaceDetected     Kind = "NO_FACE_DETECTED"
	KindMultipleFaces      Kind = "MULTIPLE_FACES"
	KindImageLoadError     Kind = "IMAGE_LOAD_ERROR"
	KindUnknown            Kind = "UNKNOWN"
)

// Error is a classified failure of the biometric service. Code is the raw code
// reported by the service (equal to Kind except for KindUnknown).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Hints   []string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "biometric: " + e.Code
	}
	return fmt.Sprintf("biometric: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus is 503 when the service could not be reached and 422 for every
// failure caused by the submitted image.
func (e *Error) HTTPStatus() int {
	if e.Kind == KindServiceUnavailable {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnprocessableEntity
}

var hintsByKind = map[Kind][]string{
	KindServiceUnavailable: {
		"Check that the face recognition service is running",
		"Use the QR badge while the service is unavailable",
	},
	KindNoFaceDetected: {
		"Make sure the face is fully visible and well lit",
		"Look directly at the camera",
		"Remove sunglasses, masks or hats",
	},
	KindMultipleFaces: {
		"Only one person should be in front of the camera",
		"Ask the people behind to step back",
	},
	KindImageLoadError: {
		"Capture the photo again",
		"Use a JPEG or PNG image",
	},
	KindUnknown: {
		"Try again in a few seconds",
		"Use the QR badge if the problem persists",
	},
}

func newError(kind Kind, code, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Hints:   hintsByKind[kind],
		cause:   cause,
	}
}

// ServiceUnavailable reports a transport failure, a timeout or an unusable response.
func ServiceUnavailable(message string, cause error) *Error {
	return newError(KindServiceUnavailable, string(KindServiceUnavailable), message, cause)
}

// ImageLoadError reports an image that could not be decoded, locally or remotely.
func ImageLoadError(message string, cause error) *Error {
	return newError(KindImageLoadError, string(KindImageLoadError), message, cause)
}

// classify maps an error code reported by the service to its Kind.
func classify(code, message string) *Error {
	switch Kind(code) {
	case KindNoFaceDetected, KindMultipleFaces, KindImageLoadError, KindServiceUnavailable:
		return newError(Kind(code), code, message, nil)
	}
	if code == "" {
		code = string(KindUnknown)
	}
	return newError(KindUnknown, code, message, nil)
}

// AsError extracts a *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is a biometric error of the given kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}
