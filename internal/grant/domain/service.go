package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

// LinkRequest carries one enrollment attempt. Status defaults to
// ACTIVE and Kind to NORMAL when unset.
type LinkRequest struct {
	OrgID                 snowflake.ID
	LearnerID             snowflake.ID
	OfferingID            snowflake.ID
	PlanID                *snowflake.ID
	DestinationOfferingID *snowflake.ID
	SubOrgID              *snowflake.ID
	RoleTags              string
	Status                GrantStatus
	Kind                  GrantKind
}

type Service interface {
	// LinkOrUpdate creates or refreshes the learner's grant for an
	// offering, enforcing the re-enrollment gap and supersession
	// rules. Returns ReenrollmentBlockedError when the gap has not
	// elapsed.
	LinkOrUpdate(ctx context.Context, req LinkRequest) (*AccessGrant, error)
	// PromoteInvited activates an INVITED grant and ties it to a
	// destination offering.
	PromoteInvited(ctx context.Context, orgID, learnerID, offeringID snowflake.ID, destinationOfferingID *snowflake.ID) (*AccessGrant, error)
	// ExpireDue sweeps lapsed ACTIVE grants to EXPIRED in batches and
	// returns the number transitioned.
	ExpireDue(ctx context.Context, batchSize int) (int64, error)
}
