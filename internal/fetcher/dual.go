package fetcher

import (
	"context"
	"errors"
)

// Dual composes the plain HTTP phase and the rendered headless phase into
// the two-phase strategy from spec.md §4.5: either phase's success returns
// immediately; both failures return the last reason.
type Dual struct {
	Plain    Fetcher
	Headless Fetcher
}

// NewDual builds a Dual fetcher. headless may be nil (or the Noop
// implementation) when headless fallback is not configured.
func NewDual(plain, headless Fetcher) *Dual {
	return &Dual{Plain: plain, Headless: headless}
}

// Fetch runs the plain phase first, falling back to the headless phase on
// failure — except when the plain phase received a response and rejected
// it on shape (unsupported MIME type, oversized body): those are terminal
// outcomes for that response, not failures of the fetch, so rendering the
// same URL would only reproduce the rejection.
func (d *Dual) Fetch(ctx context.Context, req Request) (Response, error) {
	resp, err := d.Plain.Fetch(ctx, req)
	if err == nil {
		return resp, nil
	}
	if d.Headless == nil || isTerminalPhaseOutcome(err) {
		return Response{}, err
	}

	// Both phases failed: per spec, return the last reason.
	resp, herr := d.Headless.Fetch(ctx, req)
	if herr == nil {
		return resp, nil
	}
	return Response{}, herr
}

// isTerminalPhaseOutcome reports whether err reflects a successfully
// received plain-HTTP response that was rejected on shape rather than a
// network/status failure, per Testable Property/Scenario 5.
func isTerminalPhaseOutcome(err error) bool {
	var ferr *Error
	if !errors.As(err, &ferr) {
		return false
	}
	return ferr.Reason == ReasonMIMERejected || ferr.Reason == ReasonBodyTooLarge
}
