package exception

import "errors"

// Execution errors
var (
	ErrOrderQueueFull         = errors.New("order: queue full")
	ErrOrderNilBroker         = errors.New("order: nil broker")
	ErrOrderInvalidWorkers    = errors.New("order: invalid worker config")
	ErrOrderUnknown           = errors.New("order: unknown order id")
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	ErrOrderInvalidFill       = errors.New("order: invalid fill quantity")
)
