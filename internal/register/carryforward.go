package register

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"backoffice/backend/internal/domain"
)

// CarryForwardPolicy decides what happens when a store skipped one or more
// calendar weeks since its last register week.
type CarryForwardPolicy string

const (
	// PolicyRequireOpeningAfterGap asks a human for the opening balance
	// whenever the previous week is not the immediately preceding one.
	PolicyRequireOpeningAfterGap CarryForwardPolicy = "require_opening_after_gap"
	// PolicyCarryLatest carries the most recent finalized week regardless of gap.
	PolicyCarryLatest CarryForwardPolicy = "carry_latest"
)

func ParseCarryForwardPolicy(raw string) (CarryForwardPolicy, error) {
	switch CarryForwardPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyRequireOpeningAfterGap:
		return PolicyRequireOpeningAfterGap, nil
	case PolicyCarryLatest:
		return PolicyCarryLatest, nil
	default:
		return "", fmt.Errorf("unknown carry-forward policy %q", raw)
	}
}

const (
	ReasonFirstWeek    = "first register week for this store"
	ReasonNotFinalized = "previous week was never finalized"
	ReasonGap          = "one or more weeks were skipped since the previous week"
)

type CarryDecision struct {
	Carry   bool
	Opening decimal.Decimal
	Reason  string
}

// DecideCarryForward decides the opening balance of the week at bounds given
// the store's latest earlier week. The previous closing balance is copied
// literally, never recomputed.
func DecideCarryForward(prev *domain.RegisterWeek, bounds domain.WeekBounds, policy CarryForwardPolicy) CarryDecision {
	if prev == nil {
		return CarryDecision{Reason: ReasonFirstWeek}
	}
	if !prev.Finalized() {
		return CarryDecision{Reason: ReasonNotFinalized}
	}
	if policy != PolicyCarryLatest && !Follows(prev.Bounds(), bounds) {
		return CarryDecision{Reason: ReasonGap}
	}
	return CarryDecision{Carry: true, Opening: prev.ClosingBalance}
}
