package txsync

import "errors"

var (
	ErrAcquire           = errors.New("txsync: cannot acquire connection")
	ErrNoScope           = errors.New("txsync: no scope in context to bind the connection to")
	ErrForeignUnitOfWork = errors.New("txsync: connection is bound to another unit of work")
	ErrCompleted         = errors.New("txsync: unit of work already completed")
)
