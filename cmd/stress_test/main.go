package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/stock-allocation/internal/adapter/storage"
	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/core/service"
)

const (
	batchCount   = 40
	batchSize    = "25.75"
	concurrency  = 32
	maxSaleUnits = 1500 // hundredths
)

func main() {
	totalRequests := flag.Int("requests", 2000, "number of sale operations to run")
	flag.Parse()

	ctx := context.Background()

	// Seed one item with many small batches spread over a few containers.
	ledger := storage.NewMemoryLedger()
	item := ledger.AddItem(domain.Item{Name: "Copper Wire"})
	unload := time.Now().Add(-30 * 24 * time.Hour)
	for i := 0; i < batchCount; i++ {
		ledger.AddBatch(domain.Batch{
			ItemID:       item.ID,
			ContainerRef: fmt.Sprintf("MSKU-%d", i%5),
			Purchased:    domain.Qty(batchSize),
			UnloadedAt:   unload.Add(time.Duration(i) * time.Hour),
		})
	}
	initial := domain.Qty(batchSize).Mul(decimal.NewFromInt(batchCount))

	allocations := service.NewAllocationService(ledger, service.WithMaxAttempts(10))

	var (
		created, updated, deleted, rejected, conflicts atomic.Int32

		mu   sync.Mutex
		live []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		g.Go(func() error {
			qty := decimal.New(int64(1+rand.IntN(maxSaleUnits)), -domain.QtyPlaces)

			mu.Lock()
			var saleID string
			if len(live) > 0 && rand.IntN(3) == 0 {
				j := rand.IntN(len(live))
				saleID = live[j]
				live = append(live[:j], live[j+1:]...)
			}
			mu.Unlock()

			var err error
			switch {
			case saleID == "":
				var r domain.SaleResult
				r, err = allocations.CreateSaleAllocation(gctx, domain.CreateRequest{ItemID: item.ID, Quantity: qty})
				if err == nil {
					created.Add(1)
					saleID = r.Sale.ID
				}
			case rand.IntN(2) == 0:
				_, err = allocations.UpdateSaleAllocation(gctx, domain.UpdateRequest{SaleID: saleID, Quantity: qty})
				if err == nil {
					updated.Add(1)
				}
			default:
				err = allocations.DeleteSaleAllocation(gctx, saleID)
				if err == nil {
					deleted.Add(1)
					return nil
				}
			}

			switch {
			case err == nil:
			case errors.Is(err, domain.ErrInsufficientStock):
				rejected.Add(1)
			case errors.Is(err, domain.ErrConcurrentModification):
				conflicts.Add(1)
			default:
				return err
			}

			if saleID != "" {
				mu.Lock()
				live = append(live, saleID)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		fmt.Printf("FAIL: unexpected error: %v\n", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	report, err := allocations.Verify(ctx, item.ID)
	if err != nil {
		fmt.Printf("FAIL: verify: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %s\n", initial.StringFixed(domain.QtyPlaces))
	fmt.Printf("Total Requests:   %d\n", *totalRequests)
	fmt.Printf("Created:          %d\n", created.Load())
	fmt.Printf("Updated:          %d\n", updated.Load())
	fmt.Printf("Deleted:          %d\n", deleted.Load())
	fmt.Printf("Rejected:         %d\n", rejected.Load())
	fmt.Printf("Gave Up:          %d\n", conflicts.Load())
	fmt.Printf("Allocated Out:    %s\n", report.AllocatedOut.StringFixed(domain.QtyPlaces))
	fmt.Printf("Remaining:        %s\n", report.Remaining.StringFixed(domain.QtyPlaces))
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if report.Remaining.Add(report.AllocatedOut).Equal(initial) {
		fmt.Println("PASS: remaining + allocated equals purchased")
	} else {
		fmt.Printf("FAIL: remaining %s + allocated %s != purchased %s\n",
			report.Remaining.StringFixed(domain.QtyPlaces), report.AllocatedOut.StringFixed(domain.QtyPlaces), initial.StringFixed(domain.QtyPlaces))
		failed = true
	}
	if report.Healthy() {
		fmt.Println("PASS: no drift and every sale fully allocated")
	} else {
		fmt.Printf("FAIL: drift %s, demand gap %s\n", report.Drift.StringFixed(domain.QtyPlaces), report.DemandGap.StringFixed(domain.QtyPlaces))
		failed = true
	}
	if failed {
		os.Exit(1)
	}
}
