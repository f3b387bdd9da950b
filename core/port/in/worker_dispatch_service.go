package in

import (
	"context"

	"github.com/google/uuid"
)

// DispatchOutcome is the result of a single dispatch attempt.
type DispatchOutcome string

const (
	OutcomeClassified      DispatchOutcome = "classified"
	OutcomeRetrying        DispatchOutcome = "retrying"
	OutcomeFailed          DispatchOutcome = "failed"
	OutcomeSkipped         DispatchOutcome = "skipped"
	OutcomeAlreadyInFlight DispatchOutcome = "already_in_flight"
	OutcomeClaimLost       DispatchOutcome = "claim_lost"
)

type DispatchOptions struct {
	Force bool
}

type DispatchService interface {
	Dispatch(ctx context.Context, recordID uuid.UUID, opts DispatchOptions) (DispatchOutcome, error)
}
