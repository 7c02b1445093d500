package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrEncoding          = errors.New("protocol: encoding error")
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrTrailingData      = errors.New("protocol: unparsed trailing data")
	ErrInvalidLength     = errors.New("protocol: invalid length")
	ErrInvalidValue      = errors.New("protocol: invalid value")
	ErrFieldTypeMismatch = errors.New("protocol: field type mismatch")
	ErrUnknownParamType  = errors.New("protocol: unknown parameter type")
)

// EncodingError reports caller-supplied fields that do not satisfy a layout.
type EncodingError struct {
	Param  string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("protocol: encoding error: %s", e.Reason)
	}
	return fmt.Sprintf("protocol: encoding error: param=%s: %s", e.Param, e.Reason)
}

func (e *EncodingError) Unwrap() error {
	return ErrEncoding
}

// DecodeError reports a payload that does not fit its layout.
type DecodeError struct {
	Param string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("protocol: decode: %v", e.Err)
	}
	return fmt.Sprintf("protocol: decode param=%s: %v", e.Param, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
