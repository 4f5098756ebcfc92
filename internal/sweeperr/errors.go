// Package sweeperr defines the error taxonomy shared by the sweep engine, the
// setting backends and the dataset sink. Callers match with errors.Is; the
// packages wrap these sentinels with fmt.Errorf("%w: ...") to add detail.
package sweeperr

import "errors"

var (
	// ErrInvalidArgument reports malformed configuration: bad axis point
	// counts, mismatched coefficient vectors, non-positive elapsed times.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState reports an operation invoked in the wrong lifecycle
	// phase, such as adding an axis after the mesh was generated.
	ErrInvalidState = errors.New("invalid state")

	// ErrNotReady reports a setting used before it has both a backend and a
	// connection.
	ErrNotReady = errors.New("setting not ready")

	// ErrUnsupportedOperation reports a get on a set-only setting or the
	// reverse.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrRemoteCallFailed reports an instrument call that failed after the
	// single permitted retry.
	ErrRemoteCallFailed = errors.New("remote call failed")

	// ErrExhaustedIteration reports a mesh cursor stepped past completion.
	ErrExhaustedIteration = errors.New("mesh exhausted")

	// ErrConfiguration reports an engine configuration that cannot start a
	// sweep (missing axes, settings or coefficient vectors).
	ErrConfiguration = errors.New("configuration error")
)
