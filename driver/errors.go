package driver

import "errors"

var (
	ErrConnClosed         = errors.New("driver: connection closed")
	ErrClusterUnsupported = errors.New("driver: cluster connections not supported")
	ErrPipelineOpen       = errors.New("driver: pipeline already open")
	ErrNotPipelined       = errors.New("driver: no pipeline open")
	ErrNotQueueing        = errors.New("driver: no transaction in progress")
	ErrAlreadyQueueing    = errors.New("driver: transaction already in progress")
	ErrTxAborted          = errors.New("driver: transaction aborted, a watched key changed")
)

// StoreError is an error reply from the store for a single command.
// The connection stays usable; the command simply failed.
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	return "store error: " + e.Message
}

// ShouldCloseConnection returns false, store errors don't corrupt connection state.
func (e *StoreError) ShouldCloseConnection() bool {
	return false
}

// WrongTypeError is the message for operations against a key holding another type.
const WrongTypeError = "WRONGTYPE Operation against a key holding the wrong kind of value"

// ShouldCloseConnection reports whether err leaves the connection in an
// unknown state, in which case it must not be returned to a pool.
// Errors implementing ShouldCloseConnection() decide for themselves; any
// other non-nil error is treated as fatal to the connection.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var closer interface{ ShouldCloseConnection() bool }
	if errors.As(err, &closer) {
		return closer.ShouldCloseConnection()
	}

	return true
}
