package handler

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-allocation/internal/core/domain"
)

// SaleRequest is the body of sale create and update calls on both
// transports. Quantities are decimal strings; numbers are accepted too.
type SaleRequest struct {
	RequestID string          `json:"request_id,omitempty"`
	SaleID    string          `json:"sale_id,omitempty"`
	ItemID    int64           `json:"item_id,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	// Policy is fifo, container or explicit. When empty it is inferred from
	// which of Containers and Batches is set.
	Policy        string                     `json:"policy,omitempty"`
	Containers    map[string]decimal.Decimal `json:"containers,omitempty"`
	Batches       map[int64]decimal.Decimal  `json:"batches,omitempty"`
	Ambiguity     string                     `json:"ambiguity,omitempty"`
	AcceptPartial bool                       `json:"accept_partial,omitempty"`
}

func (r SaleRequest) policy() (domain.Policy, error) {
	kind := domain.PolicyKind(r.Policy)
	if kind == "" {
		switch {
		case len(r.Containers) > 0 && len(r.Batches) > 0:
			return domain.Policy{}, fmt.Errorf("%w: both containers and batches given", domain.ErrInvalidPolicy)
		case len(r.Containers) > 0:
			kind = domain.PolicyContainerGroup
		case len(r.Batches) > 0:
			kind = domain.PolicyExplicit
		default:
			kind = domain.PolicyFIFO
		}
	}
	p := domain.Policy{Kind: kind}
	switch kind {
	case domain.PolicyContainerGroup:
		p.Containers = r.Containers
	case domain.PolicyExplicit:
		p.Batches = r.Batches
	}
	return p, p.Validate()
}

func (r SaleRequest) toCreate() (domain.CreateRequest, error) {
	if r.ItemID <= 0 {
		return domain.CreateRequest{}, fmt.Errorf("%w: item_id is required", errBadRequest)
	}
	p, err := r.policy()
	if err != nil {
		return domain.CreateRequest{}, err
	}
	amb, err := domain.ParseAmbiguity(r.Ambiguity)
	if err != nil {
		return domain.CreateRequest{}, err
	}
	return domain.CreateRequest{
		RequestID:     r.RequestID,
		SaleID:        r.SaleID,
		ItemID:        r.ItemID,
		Quantity:      r.Quantity,
		Policy:        p,
		Ambiguity:     amb,
		AcceptPartial: r.AcceptPartial,
	}, nil
}

func (r SaleRequest) toUpdate(saleID string) (domain.UpdateRequest, error) {
	p, err := r.policy()
	if err != nil {
		return domain.UpdateRequest{}, err
	}
	amb, err := domain.ParseAmbiguity(r.Ambiguity)
	if err != nil {
		return domain.UpdateRequest{}, err
	}
	return domain.UpdateRequest{
		SaleID:    saleID,
		Quantity:  r.Quantity,
		Policy:    p,
		Ambiguity: amb,
	}, nil
}

type AllocationView struct {
	ID       string          `json:"id"`
	BatchID  int64           `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type SaleView struct {
	ID          string           `json:"id"`
	ItemID      int64            `json:"item_id"`
	Quantity    decimal.Decimal  `json:"quantity"`
	Status      string           `json:"status"`
	Version     int              `json:"version"`
	Allocations []AllocationView `json:"allocations"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func newSaleView(r domain.SaleResult) SaleView {
	v := SaleView{
		ID:          r.Sale.ID,
		ItemID:      r.Sale.ItemID,
		Quantity:    r.Sale.Requested,
		Status:      string(r.Sale.Status),
		Version:     r.Sale.Version,
		Allocations: make([]AllocationView, 0, len(r.Allocations)),
		CreatedAt:   r.Sale.CreatedAt,
		UpdatedAt:   r.Sale.UpdatedAt,
	}
	for _, a := range r.Allocations {
		v.Allocations = append(v.Allocations, AllocationView{ID: a.ID, BatchID: a.BatchID, Quantity: a.Quantity})
	}
	return v
}

// BatchListRequest narrows a batch listing. AsOf is RFC 3339.
type BatchListRequest struct {
	ItemID          int64   `json:"item_id"`
	ExcludeBatchIDs []int64 `json:"exclude_batch_ids,omitempty"`
	ForSaleID       string  `json:"for_sale_id,omitempty"`
	AsOf            string  `json:"as_of,omitempty"`
	Order           string  `json:"order,omitempty"`
}

func (r BatchListRequest) query() (domain.BatchQuery, error) {
	q := domain.BatchQuery{
		ExcludeBatchIDs: r.ExcludeBatchIDs,
		ForSaleID:       r.ForSaleID,
		Order:           domain.BatchOrder(r.Order),
	}
	switch q.Order {
	case "", domain.OrderByID, domain.OrderByUnloadDate:
	default:
		return q, fmt.Errorf("%w: unknown order %q", errBadRequest, r.Order)
	}
	if r.AsOf != "" {
		t, err := time.Parse(time.RFC3339, r.AsOf)
		if err != nil {
			return q, fmt.Errorf("%w: as_of: %v", errBadRequest, err)
		}
		q.AsOf = t
	}
	return q, nil
}

type ItemView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type BatchView struct {
	ID           int64           `json:"id"`
	ItemID       int64           `json:"item_id"`
	ContainerRef string          `json:"container_ref"`
	Purchased    decimal.Decimal `json:"purchased"`
	Remaining    decimal.Decimal `json:"remaining"`
	Allocated    decimal.Decimal `json:"allocated"`
	UnloadedAt   *time.Time      `json:"unloaded_at,omitempty"`
}

type BatchList struct {
	Batches []BatchView `json:"batches"`
}

func newBatchList(batches []domain.Batch) BatchList {
	out := BatchList{Batches: make([]BatchView, 0, len(batches))}
	for _, b := range batches {
		v := BatchView{
			ID:           b.ID,
			ItemID:       b.ItemID,
			ContainerRef: b.ContainerRef,
			Purchased:    b.Purchased,
			Remaining:    b.Remaining,
			Allocated:    b.Allocated(),
		}
		if !b.UnloadedAt.IsZero() {
			at := b.UnloadedAt
			v.UnloadedAt = &at
		}
		out.Batches = append(out.Batches, v)
	}
	return out
}

type ContainerGroupView struct {
	ContainerRef  string          `json:"container_ref"`
	BatchIDs      []int64         `json:"batch_ids"`
	Purchased     decimal.Decimal `json:"purchased"`
	Remaining     decimal.Decimal `json:"remaining"`
	OldestBatchID int64           `json:"oldest_batch_id"`
}

func newContainerGroupViews(groups []domain.ContainerGroup) []ContainerGroupView {
	out := make([]ContainerGroupView, 0, len(groups))
	for _, g := range groups {
		out = append(out, ContainerGroupView(g))
	}
	return out
}

// PlanView is a dry-run resolution; Shortfall is what stock could not cover.
type PlanView struct {
	Lines     []AllocationView `json:"lines"`
	Total     decimal.Decimal  `json:"total"`
	Shortfall decimal.Decimal  `json:"shortfall"`
}

func newPlanView(plan domain.Plan, shortfall decimal.Decimal) PlanView {
	v := PlanView{Lines: make([]AllocationView, 0, len(plan)), Total: plan.Total(), Shortfall: shortfall}
	for _, l := range plan {
		v.Lines = append(v.Lines, AllocationView{BatchID: l.BatchID, Quantity: l.Quantity})
	}
	return v
}

type VerifyRequest struct {
	ItemID int64 `json:"item_id"`
}

type BatchDriftView struct {
	BatchID           int64           `json:"batch_id"`
	ContainerRef      string          `json:"container_ref"`
	Purchased         decimal.Decimal `json:"purchased"`
	Allocated         decimal.Decimal `json:"allocated"`
	Remaining         decimal.Decimal `json:"remaining"`
	ExpectedRemaining decimal.Decimal `json:"expected_remaining"`
	Drift             decimal.Decimal `json:"drift"`
	Drifted           bool            `json:"drifted"`
}

type ReportView struct {
	ItemID            int64            `json:"item_id"`
	ItemName          string           `json:"item_name,omitempty"`
	Purchased         decimal.Decimal  `json:"purchased"`
	AllocatedOut      decimal.Decimal  `json:"allocated_out"`
	Remaining         decimal.Decimal  `json:"remaining"`
	ExpectedRemaining decimal.Decimal  `json:"expected_remaining"`
	Drift             decimal.Decimal  `json:"drift"`
	DriftDetected     bool             `json:"drift_detected"`
	Demand            decimal.Decimal  `json:"demand"`
	DemandGap         decimal.Decimal  `json:"demand_gap"`
	Healthy           bool             `json:"healthy"`
	Batches           []BatchDriftView `json:"batches"`
	CheckedAt         time.Time        `json:"checked_at"`
}

func newReportView(r domain.Report) ReportView {
	v := ReportView{
		ItemID:            r.ItemID,
		ItemName:          r.ItemName,
		Purchased:         r.Purchased,
		AllocatedOut:      r.AllocatedOut,
		Remaining:         r.Remaining,
		ExpectedRemaining: r.ExpectedRemaining,
		Drift:             r.Drift,
		DriftDetected:     r.DriftDetected,
		Demand:            r.Demand,
		DemandGap:         r.DemandGap,
		Healthy:           r.Healthy(),
		Batches:           make([]BatchDriftView, 0, len(r.Batches)),
		CheckedAt:         r.CheckedAt,
	}
	for _, b := range r.Batches {
		v.Batches = append(v.Batches, BatchDriftView(b))
	}
	return v
}

// Response is the envelope of every HTTP reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}
