package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrGrantNotFound     = errors.New("grant_not_found")
	ErrInvalidStatus     = errors.New("invalid_grant_status")
	ErrInvalidTransition = errors.New("invalid_grant_transition")
)

// ReenrollmentBlockedError is a business-rule rejection surfaced to the
// purchase flow, carrying the exact retry date and required gap so the
// caller can render "try again after <date>".
type ReenrollmentBlockedError struct {
	RetryAfter time.Time
	GapDays    int
}

func (e *ReenrollmentBlockedError) Error() string {
	return fmt.Sprintf("reenrollment_blocked: retry after %s (gap %d days)",
		e.RetryAfter.Format("2006-01-02"), e.GapDays)
}
