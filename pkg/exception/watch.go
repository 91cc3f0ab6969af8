package exception

import "errors"

// Watcher errors
var (
	ErrWatchConnect        = errors.New("watch: store unreachable")
	ErrWatchNilCallback    = errors.New("watch: nil callback")
	ErrWatchNilSource      = errors.New("watch: nil source")
	ErrWatchRetryExhausted = errors.New("watch: retry budget exhausted")
	ErrWatchStopped        = errors.New("watch: stopped")
)
