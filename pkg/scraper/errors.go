package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies why a target could not be scraped.
//
type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindConnection ErrorKind = "connection"
	KindResponse   ErrorKind = "response"
	KindCanceled   ErrorKind = "canceled"
)

// TargetError is a transient, target-level failure. It never fails a round
// on its own; the target is simply tried again on the next one.
//
type TargetError struct {
	Address string
	Kind    ErrorKind
	Err     error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target '%s' (%s): %v", e.Address, e.Kind, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// classify wraps `err` into a TargetError, telling timeouts and shutdowns
// apart by looking at the contexts involved.
//
func classify(
	roundCtx, targetCtx context.Context, address string, err error,
) *TargetError {
	kind := KindResponse

	var netErr net.Error

	switch {
	case roundCtx.Err() != nil:
		kind = KindCanceled
	case errors.Is(targetCtx.Err(), context.DeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.As(err, &netErr):
		kind = KindConnection
	}

	return &TargetError{Address: address, Kind: kind, Err: err}
}
