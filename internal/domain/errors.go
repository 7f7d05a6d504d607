package domain

import "errors"

var (
	ErrNotFound    = errors.New("not found")
	ErrLockHeld    = errors.New("lock already held")
	ErrRateLimited = errors.New("rate limited")

	// Authorization errors. Always rejected before any state change.
	ErrNotParty     = errors.New("caller is not a party to this dispute")
	ErrNotAuthority = errors.New("caller is not the arbitration authority")
	ErrPaused       = errors.New("arbitration is paused")

	// Invariant-violation errors.
	ErrInvalidDispute        = errors.New("invalid dispute parameters")
	ErrInvalidEvidence       = errors.New("invalid evidence item")
	ErrEvidenceSubmitted     = errors.New("evidence already submitted")
	ErrEvidenceIncomplete    = errors.New("evidence not complete")
	ErrDecisionIssued        = errors.New("decision already issued")
	ErrNoDecision            = errors.New("no decision issued")
	ErrAmountExceedsContract = errors.New("approved amount exceeds contract amount")
	ErrAlreadyAppealed       = errors.New("dispute already appealed")
	ErrAlreadyResolved       = errors.New("dispute already resolved")
	ErrTicketRefunded        = errors.New("ticket already refunded")

	// Timing errors.
	ErrEvidenceWindowClosed = errors.New("evidence window closed")
	ErrAppealWindowClosed   = errors.New("appeal window closed")
	ErrExecutionNotReady    = errors.New("appeal window still open")

	// Transfer failures abort the enclosing operation entirely.
	ErrTransferFailed = errors.New("token transfer failed")
)
