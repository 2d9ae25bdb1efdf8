package portal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang-wifiprov/internal/types"

	"github.com/google/uuid"
)

var (
	// ErrSubmissionPending is returned when a submission was already accepted
	// for the session.
	ErrSubmissionPending = errors.New("a submission is already pending")

	// ErrSessionClosed is returned by Wait once the session was closed.
	ErrSessionClosed = errors.New("provisioning session closed")
)

// Session holds the single submission accepted while the access point is up.
type Session struct {
	ID string

	submitted atomic.Bool
	offers    chan types.CredentialRecord
	closed    chan struct{}
	closeOnce sync.Once
}

// NewSession creates an empty session.
func NewSession() *Session {
	return &Session{
		ID:     uuid.NewString(),
		offers: make(chan types.CredentialRecord, 1),
		closed: make(chan struct{}),
	}
}

// Offer hands a validated record to whoever waits on the session. Only the
// first offer is accepted.
func (s *Session) Offer(record types.CredentialRecord) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	if !s.submitted.CompareAndSwap(false, true) {
		return ErrSubmissionPending
	}
	s.offers <- record
	return nil
}

// Wait blocks until a record is offered, the session is closed, ctx is done
// or timeout elapses. A zero timeout waits indefinitely.
func (s *Session) Wait(ctx context.Context, timeout time.Duration) (types.CredentialRecord, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case record := <-s.offers:
		return record, nil
	case <-s.closed:
		return types.CredentialRecord{}, ErrSessionClosed
	case <-expired:
		return types.CredentialRecord{}, fmt.Errorf("%w: no submission within %s", types.ErrProvisioningTimeout, timeout)
	case <-ctx.Done():
		return types.CredentialRecord{}, ctx.Err()
	}
}

// Close ends the session; further offers are refused.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
