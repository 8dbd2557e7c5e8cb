package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report is the read-only consistency check of one item.
type Report struct {
	ItemID            int64
	ItemName          string
	Purchased         decimal.Decimal
	AllocatedOut      decimal.Decimal
	Remaining         decimal.Decimal
	ExpectedRemaining decimal.Decimal
	Drift             decimal.Decimal
	DriftDetected     bool
	// Demand is the requested quantity of every live sale of the item; it
	// must equal AllocatedOut.
	Demand        decimal.Decimal
	DemandGap     decimal.Decimal
	DemandDrifted bool
	Batches       []BatchDrift
	CheckedAt     time.Time
}

// BatchDrift is the per-batch line of a Report.
type BatchDrift struct {
	BatchID           int64
	ContainerRef      string
	Purchased         decimal.Decimal
	Allocated         decimal.Decimal
	Remaining         decimal.Decimal
	ExpectedRemaining decimal.Decimal
	Drift             decimal.Decimal
	Drifted           bool
}

// Healthy reports whether neither drift nor a demand gap was found.
func (r Report) Healthy() bool {
	return !r.DriftDetected && !r.DemandDrifted
}
