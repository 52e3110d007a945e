package domain

import "errors"

var (
	ErrInvalidDelta        = errors.New("invalid settlement delta")
	ErrEmptyItemList       = errors.New("consignment needs at least one item")
	ErrUnknownClient       = errors.New("unknown client")
	ErrUnknownProduct      = errors.New("unknown product")
	ErrNothingToSettle     = errors.New("nothing to settle")
	ErrConsignmentClosed   = errors.New("consignment is closed")
	ErrConsignmentNotFound = errors.New("consignment not found")
	ErrInvalidRequest      = errors.New("invalid request")
)
