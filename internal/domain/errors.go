package domain

import "errors"

// Sentinel errors of the trading core.
var (
	// ErrInvalidPlan is returned when a trade plan violates its invariants.
	ErrInvalidPlan = errors.New("invalid trade plan")
	// ErrInvalidTargetCount is returned when a quantity is split into less than one slice.
	ErrInvalidTargetCount = errors.New("invalid target count")
	// ErrPrecisionUnavailable is returned when symbol metadata lacks the quantity step or price tick.
	ErrPrecisionUnavailable = errors.New("symbol precision unavailable")
	// ErrNotionalTooSmall is returned when a leg of a plan would be at or below the minimum notional.
	ErrNotionalTooSmall = errors.New("order notional too small")
	// ErrSliceTooSmall is returned when rounding leaves an exit slice without quantity.
	ErrSliceTooSmall = errors.New("exit slice quantity is not positive")
	// ErrOcoSubmissionRejected is returned when the exchange does not start an OCO list.
	ErrOcoSubmissionRejected = errors.New("oco submission rejected")
	// ErrUnexpectedOrderStatus is returned when an order acknowledgement has an unexpected status.
	ErrUnexpectedOrderStatus = errors.New("unexpected order status")
	// ErrPositionOpen is returned when a futures entry finds an existing position or open orders.
	ErrPositionOpen = errors.New("position already open")
	// ErrNoPosition is returned when a symbol has nothing to close.
	ErrNoPosition = errors.New("no open position")
	// ErrDuplicateOrder is returned when the ledger already tracks the order.
	ErrDuplicateOrder = errors.New("duplicate pending order")
	// ErrInvalidOrderState is returned when the ledger is given an order that is not a NEW limit buy with a plan.
	ErrInvalidOrderState = errors.New("invalid pending order state")
	// ErrNotFound is returned when the ledger does not track the order.
	ErrNotFound = errors.New("pending order not found")
)
