package protocol

import (
	"errors"
	"time"
)

// Core protocol errors
var (
	// Frame errors

	ErrMessageTooLarge = errors.New("message too large")
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrUnknownKind     = errors.New("unknown message kind")
	ErrDecompression   = errors.New("decompression failed")

	// Flow errors

	ErrRateLimited      = errors.New("rate limited")
	ErrOutboxFull       = errors.New("outbox full")
	ErrUnexpectedSender = errors.New("unexpected sender")

	// Validation errors

	ErrNotBound       = errors.New("peer is not bound to an entity")
	ErrSlotNotOwned   = errors.New("slot not owned by entity")
	ErrUnknownTag     = errors.New("unknown component tag")
	ErrStaleSnapshot  = errors.New("stale snapshot acknowledgement")
	ErrDigestMismatch = errors.New("snapshot digest mismatch")
)

// ErrorCode is the numeric form of a protocol error, used in metric labels
// and logs.
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Frame error codes (3000-3999)

	ErrorCodeMessageTooLarge ErrorCode = 3001
	ErrorCodeMalformedFrame  ErrorCode = 3002
	ErrorCodeUnknownKind     ErrorCode = 3003
	ErrorCodeDecompression   ErrorCode = 3004

	// Flow error codes (4000-4999)

	ErrorCodeRateLimited      ErrorCode = 4001
	ErrorCodeOutboxFull       ErrorCode = 4002
	ErrorCodeUnexpectedSender ErrorCode = 4003

	// Validation error codes (5000-5999)

	ErrorCodeNotBound       ErrorCode = 5001
	ErrorCodeSlotNotOwned   ErrorCode = 5002
	ErrorCodeUnknownTag     ErrorCode = 5003
	ErrorCodeStaleSnapshot  ErrorCode = 5004
	ErrorCodeDigestMismatch ErrorCode = 5005

	ErrorCodeUnknownError ErrorCode = 9999
)

// Error represents a protocol-specific error with additional context
type Error struct {
	Code      ErrorCode
	Message   string
	Cause     error
	Context   map[string]any
	Timestamp int64
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewProtocolError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Cause:     cause,
		Context:   make(map[string]any),
		Timestamp: time.Now().Unix(),
	}
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsFatal always reports false: every protocol error drops one message and
// keeps the connection.
func (e *Error) IsFatal() bool {
	return false
}

var errorCodeMap = map[error]ErrorCode{
	ErrMessageTooLarge:  ErrorCodeMessageTooLarge,
	ErrMalformedFrame:   ErrorCodeMalformedFrame,
	ErrUnknownKind:      ErrorCodeUnknownKind,
	ErrDecompression:    ErrorCodeDecompression,
	ErrRateLimited:      ErrorCodeRateLimited,
	ErrOutboxFull:       ErrorCodeOutboxFull,
	ErrUnexpectedSender: ErrorCodeUnexpectedSender,
	ErrNotBound:         ErrorCodeNotBound,
	ErrSlotNotOwned:     ErrorCodeSlotNotOwned,
	ErrUnknownTag:       ErrorCodeUnknownTag,
	ErrStaleSnapshot:    ErrorCodeStaleSnapshot,
	ErrDigestMismatch:   ErrorCodeDigestMismatch,
}

// GetErrorCode returns the code for err, looking through wrapping.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeSuccess
	}
	var protocolErr *Error
	if errors.As(err, &protocolErr) {
		return protocolErr.Code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrorCodeUnknownError
}

// Reason is the short label of err's code for metrics.
func Reason(err error) string {
	switch GetErrorCode(err) {
	case ErrorCodeSuccess:
		return "ok"
	case ErrorCodeMessageTooLarge:
		return "too_large"
	case ErrorCodeMalformedFrame, ErrorCodeUnknownKind, ErrorCodeDecompression:
		return "malformed"
	case ErrorCodeRateLimited:
		return "rate_limited"
	case ErrorCodeOutboxFull:
		return "outbox_full"
	case ErrorCodeNotBound, ErrorCodeSlotNotOwned, ErrorCodeUnknownTag, ErrorCodeUnexpectedSender:
		return "rejected"
	case ErrorCodeStaleSnapshot:
		return "stale"
	case ErrorCodeDigestMismatch:
		return "digest_mismatch"
	default:
		return "error"
	}
}

// WrapError wraps a standard error into a protocol Error
func WrapError(err error, message string) *Error {
	return NewProtocolError(GetErrorCode(err), message, err)
}
