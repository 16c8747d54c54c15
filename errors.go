package zet017

import (
	"errors"

	"github.com/zet017/zet017tcp/internal/protocol"
)

// Sentinel errors returned by Server operations. Test with errors.Is; the
// wrapped chain may carry additional context.
var (
	ErrNullArgument      = error(protocol.ErrNullArgument)
	ErrMissingDevice     = error(protocol.ErrMissingDevice)
	ErrDisconnected      = error(protocol.ErrDisconnected)
	ErrDuplicate         = error(protocol.ErrDuplicate)
	ErrAllocationFailed  = error(protocol.ErrAllocationFailed)
	ErrSyncInitFailed    = error(protocol.ErrSyncInitFailed)
	ErrThreadSpawnFailed = error(protocol.ErrThreadSpawnFailed)
	ErrSocketFailed      = error(protocol.ErrSocketFailed)
	ErrHandshakeFailed   = error(protocol.ErrHandshakeFailed)
	ErrSelectTimeout     = error(protocol.ErrSelectTimeout)
	ErrShortIO           = error(protocol.ErrShortIO)
	ErrBadChannel        = error(protocol.ErrBadChannel)
	ErrBadPointer        = error(protocol.ErrBadPointer)
	ErrBadSize           = error(protocol.ErrBadSize)
)

// ErrorCode maps err to the stable small-negative-integer vocabulary of
// the original device SDK, for callers bridging to that ABI. Returns 0
// when err carries no code.
func ErrorCode(err error) int {
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return 0
}
