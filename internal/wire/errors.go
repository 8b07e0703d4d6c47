package wire

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable wire value carried in the `code` byte of a tagged
// reply, and mirrored into the `code` field of a cnam error body.
type ErrorCode uint8

const (
	CodeNoError               ErrorCode = 0
	CodeGeneralError          ErrorCode = 1
	CodeInvalidRequest        ErrorCode = 11
	CodeGeneralResolvingError ErrorCode = 21
	CodeDriverResolvingError  ErrorCode = 22
)

// String returns the human-readable reason string placed in error replies.
func (c ErrorCode) String() string {
	switch c {
	case CodeNoError:
		return "no error"
	case CodeGeneralError:
		return "general error"
	case CodeInvalidRequest:
		return "invalid request"
	case CodeGeneralResolvingError:
		return "general resolving error"
	case CodeDriverResolvingError:
		return "driver resolving error"
	default:
		return fmt.Sprintf("unknown error %d", uint8(c))
	}
}

// ResolverError pairs a wire error code with a human-readable reason.
// It is returned by every layer of the resolution pipeline so the dispatcher
// can shape a reply without re-classifying the failure.
type ResolverError struct {
	Code   ErrorCode
	Reason string
}

func (e *ResolverError) Error() string {
	return e.Reason
}

// NewResolverError builds a ResolverError with an explicit reason string.
func NewResolverError(code ErrorCode, reason string) *ResolverError {
	return &ResolverError{Code: code, Reason: reason}
}

// Wrap attaches a wire error code to an underlying error, keeping its
// message as the reason. The result does not wrap err: errors.Is/As on it
// do not reach err or its chain.
func Wrap(code ErrorCode, err error) *ResolverError {
	if err == nil {
		return nil
	}
	return &ResolverError{Code: code, Reason: err.Error()}
}

// ReasonOf extracts the reason string from err, falling back to err.Error().
func ReasonOf(err error) string {
	var re *ResolverError
	if errors.As(err, &re) {
		return re.Reason
	}
	return err.Error()
}

// CodeOf extracts the wire error code from err, defaulting to
// CodeGeneralError when err does not carry one.
func CodeOf(err error) ErrorCode {
	var re *ResolverError
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeGeneralError
}
