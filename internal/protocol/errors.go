package protocol

import "fmt"

// CodedError is a library error that also carries the small negative
// integer code of the original device SDK, for callers bridging to that
// ABI (e.g. a cgo shim).
type CodedError struct {
	msg  string
	code int
}

func (e *CodedError) Error() string  { return e.msg }
func (e *CodedError) ErrorCode() int { return e.code }

func newCodedError(code int, msg string) *CodedError {
	return &CodedError{msg: msg, code: code}
}

// Sentinel errors surfaced by the public API. Use errors.Is to test for a
// specific kind.
var (
	ErrNullArgument     = newCodedError(-1, "zet017: null argument")
	ErrMissingDevice    = newCodedError(-2, "zet017: device not found")
	ErrDisconnected     = newCodedError(-3, "zet017: device not connected")
	ErrDuplicate        = newCodedError(-4, "zet017: device already registered")
	ErrAllocationFailed = newCodedError(-5, "zet017: allocation failed")
	ErrSyncInitFailed   = newCodedError(-6, "zet017: synchronization primitive init failed")
	ErrThreadSpawnFailed = newCodedError(-7, "zet017: worker goroutine spawn failed")
	ErrSocketFailed     = newCodedError(-8, "zet017: socket operation failed")
	ErrHandshakeFailed  = newCodedError(-9, "zet017: handshake failed")
	ErrSelectTimeout    = newCodedError(-10, "zet017: select timeout")
	ErrShortIO          = newCodedError(-11, "zet017: short read or write")
	ErrBadChannel       = newCodedError(-12, "zet017: invalid or inactive channel")
	ErrBadPointer       = newCodedError(-13, "zet017: pointer out of range")
	ErrBadSize          = newCodedError(-14, "zet017: size out of range")
)

// Errorf wraps a coded sentinel with additional context while preserving
// errors.Is/ErrorCode compatibility through %w.
func Errorf(base *CodedError, format string, args ...any) error {
	return fmt.Errorf("%w: %s", base, fmt.Sprintf(format, args...))
}
