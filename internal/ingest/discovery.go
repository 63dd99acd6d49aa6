package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"barsync/internal/domain"
	"barsync/internal/refdata"
	"barsync/internal/store"
)

// DefaultTopFunds bounds the fund universe fetched by discovery.
const DefaultTopFunds = 500

// Discovery populates the instrument universe ahead of a historical run:
// every active listing for a market plus the top funds by market cap.
// Instruments it creates carry a zero placeholder price until bars for
// them are ingested.
type Discovery struct {
	client   *refdata.Client
	store    store.InstrumentStore
	market   string
	topFunds int
	log      *slog.Logger
}

// NewDiscovery creates a Discovery run for one market. topFunds <= 0
// falls back to DefaultTopFunds.
func NewDiscovery(client *refdata.Client, s store.InstrumentStore, market string, topFunds int) *Discovery {
	if market == "" {
		market = "stocks"
	}
	if topFunds <= 0 {
		topFunds = DefaultTopFunds
	}
	return &Discovery{
		client:   client,
		store:    s,
		market:   market,
		topFunds: topFunds,
		log:      slog.Default().With("component", "discovery"),
	}
}

// Run fetches both universes concurrently, inserts new instruments, and
// refreshes metadata for the rest. A fetch failure aborts the run; a
// single metadata update failure does not. Returns the newly inserted
// count.
func (d *Discovery) Run(ctx context.Context) (int64, error) {
	var stocks, funds []domain.Instrument

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stocks, err = d.client.FetchAllActive(gctx, d.market)
		if err != nil {
			return fmt.Errorf("fetching active listings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		funds, err = d.client.FetchTopByMarketCap(gctx, domain.InstrumentETF, d.topFunds)
		if err != nil {
			return fmt.Errorf("fetching top funds: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Collapse duplicates on symbol; the active listing wins over the
	// fund ranking when both carry the same ticker.
	seen := make(map[string]struct{}, len(stocks)+len(funds))
	merged := make([]domain.Instrument, 0, len(stocks)+len(funds))
	for _, list := range [][]domain.Instrument{stocks, funds} {
		for _, inst := range list {
			if _, dup := seen[inst.Symbol]; dup {
				continue
			}
			seen[inst.Symbol] = struct{}{}
			merged = append(merged, inst)
		}
	}
	if len(merged) == 0 {
		return 0, fmt.Errorf("reference API returned no instruments for market %q", d.market)
	}

	inserted, err := d.store.InsertInstruments(ctx, merged)
	if err != nil {
		return 0, fmt.Errorf("inserting instruments: %w", err)
	}
	instrumentsDiscoveredTotal.Add(float64(inserted))

	// Best-effort metadata refresh for instruments that already existed.
	var updateFailures int
	for _, inst := range merged {
		if err := d.store.UpdateInstrumentDetails(ctx, inst); err != nil {
			updateFailures++
			d.log.Warn("updating instrument details", "symbol", inst.Symbol, "err", err)
		}
	}

	d.log.Info("discovery finished",
		"market", d.market,
		"instruments", len(merged),
		"inserted", inserted,
		"updateFailures", updateFailures,
	)
	return inserted, nil
}
