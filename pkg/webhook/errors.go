package webhook

import (
	"errors"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Reason codes surfaced in the Result of a failed ConversionResponse.
const (
	ReasonInvalidRequest           metav1.StatusReason = "InvalidRequest"
	ReasonUnsupportedTarget        metav1.StatusReason = "UnsupportedTarget"
	ReasonMalformedVersion         metav1.StatusReason = "MalformedVersion"
	ReasonInvalidSpecShape         metav1.StatusReason = "InvalidSpecShape"
	ReasonUnsupportedSourceVersion metav1.StatusReason = "UnsupportedSourceVersion"
	ReasonConversionFailed         metav1.StatusReason = "ConversionFailed"
)

// ErrInvalidRequest indicates the inbound ConversionReview could not be decoded
// into a usable request.
var ErrInvalidRequest = errors.New("invalid conversion request")

// ErrUnsupportedTarget indicates the desired API version is not implemented.
var ErrUnsupportedTarget = errors.New("unsupported target version")

// ErrMalformedVersion indicates an object's apiVersion is missing, not a string,
// or cannot be parsed.
var ErrMalformedVersion = errors.New("malformed apiVersion")

// ErrInvalidSpecShape indicates spec, or one of its tracked keys, has the wrong JSON type.
var ErrInvalidSpecShape = errors.New("invalid spec shape")

// ErrUnsupportedSourceVersion indicates an object declares a version the transform
// does not recognize.
var ErrUnsupportedSourceVersion = errors.New("unsupported source version")

// ReasonFor maps an error produced by this package to its reason code.
// Errors outside the taxonomy map to ReasonConversionFailed.
func ReasonFor(err error) metav1.StatusReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		return ReasonInvalidRequest
	case errors.Is(err, ErrUnsupportedTarget):
		return ReasonUnsupportedTarget
	case errors.Is(err, ErrMalformedVersion):
		return ReasonMalformedVersion
	case errors.Is(err, ErrInvalidSpecShape):
		return ReasonInvalidSpecShape
	case errors.Is(err, ErrUnsupportedSourceVersion):
		return ReasonUnsupportedSourceVersion
	default:
		return ReasonConversionFailed
	}
}
