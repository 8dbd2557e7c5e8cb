package domain

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type PolicyKind string

const (
	PolicyFIFO           PolicyKind = "fifo"
	PolicyContainerGroup PolicyKind = "container"
	PolicyExplicit       PolicyKind = "explicit"
)

// Policy is the rule the resolver uses to pick batches.
type Policy struct {
	Kind PolicyKind
	// Containers maps a container reference to the quantity to draw from it.
	Containers map[string]decimal.Decimal
	// Batches pins exact batch quantities.
	Batches map[int64]decimal.Decimal
}

func FIFO() Policy {
	return Policy{Kind: PolicyFIFO}
}

func ByContainerGroup(containers map[string]decimal.Decimal) Policy {
	return Policy{Kind: PolicyContainerGroup, Containers: containers}
}

func Explicit(batches map[int64]decimal.Decimal) Policy {
	return Policy{Kind: PolicyExplicit, Batches: batches}
}

// Validate checks the policy shape and that every quantity in it is positive
// at ledger precision.
func (p Policy) Validate() error {
	switch p.Kind {
	case PolicyFIFO, "":
		return nil
	case PolicyContainerGroup:
		if len(p.Containers) == 0 {
			return fmt.Errorf("%w: no containers given", ErrInvalidPolicy)
		}
		for ref, q := range p.Containers {
			if _, err := PositiveQty(q); err != nil {
				return fmt.Errorf("%w: container %q: %v", ErrInvalidPolicy, ref, err)
			}
		}
	case PolicyExplicit:
		if len(p.Batches) == 0 {
			return fmt.Errorf("%w: no batches given", ErrInvalidPolicy)
		}
		for id, q := range p.Batches {
			if _, err := PositiveQty(q); err != nil {
				return fmt.Errorf("%w: batch %d: %v", ErrInvalidPolicy, id, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPolicy, p.Kind)
	}
	return nil
}

// Total is the quantity an explicit or container policy asks for. FIFO has
// no intrinsic total.
func (p Policy) Total() decimal.Decimal {
	total := decimal.Zero
	switch p.Kind {
	case PolicyContainerGroup:
		for _, q := range p.Containers {
			total = total.Add(RoundQty(q))
		}
	case PolicyExplicit:
		for _, q := range p.Batches {
			total = total.Add(RoundQty(q))
		}
	}
	return total
}

// HasTotal reports whether the policy itself names how much to allocate.
func (p Policy) HasTotal() bool {
	return p.Kind == PolicyContainerGroup || p.Kind == PolicyExplicit
}

// ExplicitPlan returns the pinned batches as a plan ordered by batch id.
func (p Policy) ExplicitPlan() Plan {
	ids := make([]int64, 0, len(p.Batches))
	for id := range p.Batches {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	plan := make(Plan, 0, len(ids))
	for _, id := range ids {
		plan = append(plan, PlanLine{BatchID: id, Quantity: RoundQty(p.Batches[id])})
	}
	return plan
}

// Ambiguity tells the reconciler how to settle a request whose quantity and
// explicit allocation total disagree.
type Ambiguity string

const (
	// AmbiguityReject fails the request with ErrQuantityMismatch.
	AmbiguityReject Ambiguity = "reject"
	// QuantityFromPlan makes the sale quantity equal to the allocation total.
	QuantityFromPlan Ambiguity = "quantity_from_plan"
	// PlanFromQuantity drops the explicit allocation and resolves the quantity
	// with FIFO.
	PlanFromQuantity Ambiguity = "plan_from_quantity"
)

// ParseAmbiguity maps a wire value onto an Ambiguity. Empty means reject.
func ParseAmbiguity(s string) (Ambiguity, error) {
	switch a := Ambiguity(s); a {
	case "":
		return AmbiguityReject, nil
	case AmbiguityReject, QuantityFromPlan, PlanFromQuantity:
		return a, nil
	default:
		return "", fmt.Errorf("%w: unknown ambiguity %q", ErrInvalidPolicy, s)
	}
}
