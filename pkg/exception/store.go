package exception

import "errors"

// Signal store errors
var (
	ErrStoreAlreadyLinked   = errors.New("store: event already linked")
	ErrStoreDuplicateLink   = errors.New("store: duplicate processing record for one raw signal")
	ErrStoreMissingSignalID = errors.New("store: missing correlation key")
	ErrStoreWrongEnv        = errors.New("store: environment mismatch")
	ErrStoreNotFound        = errors.New("store: document not found")
)
