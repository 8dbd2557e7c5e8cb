package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"os"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rl1809/stock-allocation/internal/adapter/storage"
	"github.com/rl1809/stock-allocation/internal/config"
	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/core/service"
	"github.com/rl1809/stock-allocation/internal/logger"
)

// driftcheck verifies stored remaining stock against purchases minus
// allocations and exits 1 when any item has drifted.
func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	itemID := flag.Int64("item", 0, "check a single item instead of all")
	timeout := flag.Duration("timeout", time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(2)
	}
	log := logger.New(cfg.App.Env)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Error("failed to open mysql", "err", err)
		os.Exit(2)
	}
	defer db.Close()

	adapter := storage.NewMySQLAdapter(db)
	allocations := service.NewAllocationService(adapter, service.WithItemDirectory(adapter))

	var reports []domain.Report
	if *itemID > 0 {
		var r domain.Report
		r, err = allocations.Verify(ctx, *itemID)
		reports = []domain.Report{r}
	} else {
		reports, err = allocations.VerifyAll(ctx)
	}
	if err != nil {
		log.Error("verification failed", "err", err)
		os.Exit(2)
	}

	drifted := 0
	for _, r := range reports {
		attrs := []any{
			"item_id", r.ItemID,
			"item", r.ItemName,
			"purchased", r.Purchased.StringFixed(domain.QtyPlaces),
			"allocated", r.AllocatedOut.StringFixed(domain.QtyPlaces),
			"remaining", r.Remaining.StringFixed(domain.QtyPlaces),
			"expected", r.ExpectedRemaining.StringFixed(domain.QtyPlaces),
			"drift", r.Drift.StringFixed(domain.QtyPlaces),
		}
		if r.Healthy() {
			log.Info("item consistent", attrs...)
			continue
		}
		drifted++
		log.Warn("item drifted", append(attrs, "demand_gap", r.DemandGap.StringFixed(domain.QtyPlaces))...)
		for _, b := range r.Batches {
			if b.Drifted {
				log.Warn("batch drifted",
					"item_id", r.ItemID,
					"batch_id", strconv.FormatInt(b.BatchID, 10),
					"container", b.ContainerRef,
					"remaining", b.Remaining.StringFixed(domain.QtyPlaces),
					"expected", b.ExpectedRemaining.StringFixed(domain.QtyPlaces),
				)
			}
		}
	}

	log.Info("drift check finished", "items", len(reports), "drifted", drifted)
	if drifted > 0 {
		os.Exit(1)
	}
}
