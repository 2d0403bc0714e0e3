package core

import "fmt"

// BelowCommittedPolicy decides what Adjust does when the new quantity is less
// than the row's committed stock.
type BelowCommittedPolicy string

const (
	BelowCommittedReject BelowCommittedPolicy = "reject"
	BelowCommittedWarn   BelowCommittedPolicy = "warn"
)

// Policy holds the integrator-controlled switches of the stock operations.
type Policy struct {
	// AllowOversell lets a Consume request that opts in drive available stock negative.
	AllowOversell bool
	// DedupeReferences turns reference IDs into idempotency keys.
	DedupeReferences bool
	AdjustBelowCommitted BelowCommittedPolicy
	// VerifyIntegrity compares each touched row with its ledger sum before commit.
	VerifyIntegrity bool
}

// DefaultPolicy rejects oversell and verifies integrity.
func DefaultPolicy() Policy {
	return Policy{
		AdjustBelowCommitted: BelowCommittedReject,
		VerifyIntegrity:      true,
	}
}

func (p Policy) Validate() error {
	switch p.AdjustBelowCommitted {
	case BelowCommittedReject, BelowCommittedWarn:
		return nil
	}
	return fmt.Errorf("unknown adjust-below-committed policy %q (want reject or warn)", p.AdjustBelowCommitted)
}
