package exception

import "errors"

// Poller errors
var (
	ErrPollerUnknownAccount = errors.New("poller: unknown account")
	ErrPollerStopped        = errors.New("poller: stopped")
)
