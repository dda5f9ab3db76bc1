package kvtemplate

import "errors"

var (
	// ErrNotInitialized is returned by a Template that was not built by New.
	ErrNotInitialized = errors.New("kvtemplate: template not initialized, use New")

	// ErrNoFactory is returned by New when Config.Factory is nil.
	ErrNoFactory = errors.New("kvtemplate: connection factory is required")

	// ErrPipelineResult is returned when a pipelined callback returns a
	// value. The results of a pipeline are the replies of its commands.
	ErrPipelineResult = errors.New("kvtemplate: pipelined callback must not return a value")

	// ErrNotBound is returned by transaction primitives when no connection
	// is bound to the scope, since a transaction on a connection released
	// right away could never be executed.
	ErrNotBound = errors.New("kvtemplate: transaction commands need a bound connection, use ExecuteSession or a unit of work")

	// ErrPipelinedCursor is returned when a scan is started on a pipelined
	// connection.
	ErrPipelinedCursor = errors.New("kvtemplate: cannot scan on a pipelined connection")
)
