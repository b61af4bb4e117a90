package acquire

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/mp-harvester/internal/fetch"
	"github.com/jonathan/mp-harvester/internal/session"
)

// verifyQuery is a search the platform always answers for a live session.
const verifyQuery = "weixin"

// Verifier checks stored credentials with an uncached account search.
type Verifier struct {
	sched     Scheduler
	endpoints fetch.Endpoints
}

// NewVerifier creates a Verifier that sends its probe through sched.
func NewVerifier(sched Scheduler, endpoints fetch.Endpoints) *Verifier {
	return &Verifier{sched: sched, endpoints: endpoints}
}

// Verify implements session.Verifier.
func (v *Verifier) Verify(ctx context.Context, c session.Credential) error {
	req := v.endpoints.SearchAccounts(&session.Session{Credential: c}, verifyQuery)
	if _, err := v.sched.Do(ctx, req); err != nil {
		if errors.Is(err, fetch.ErrAuthExpired) {
			return fmt.Errorf("%w: %v", session.ErrCredentialRejected, err)
		}
		return err
	}
	return nil
}

var _ session.Verifier = (*Verifier)(nil)
