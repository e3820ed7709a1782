package orderbook

import "errors"

var (
	// ErrInvariantViolation marks a book whose levels and id index no longer agree.
	// The replica can't be trusted after this and must be rebuilt from a snapshot.
	ErrInvariantViolation = errors.New("order book invariant violated")

	// ErrOrderNotFound and ErrSizeMismatch are recoverable: feed ordering races can
	// produce them, the caller logs and keeps going.
	ErrOrderNotFound = errors.New("order not found")
	ErrSizeMismatch  = errors.New("order size mismatch")
)

// IsFatal reports whether err means the book must be discarded.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}
