package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"barsync/internal/domain"
	"barsync/internal/store"
)

// LoadStore is the slice of the store the loader needs.
type LoadStore interface {
	store.InstrumentStore
	store.PriceBarStore
}

// Loader resolves tickers to instrument ids and bulk-loads parsed bars.
// It is safe for concurrent use: date-units running in parallel share one
// Loader so the symbol cache warms once per process, not once per date.
type Loader struct {
	store LoadStore
	log   *slog.Logger

	mu  sync.RWMutex
	ids map[string]int64 // symbol -> instrument id
}

// NewLoader creates a Loader backed by the given store.
func NewLoader(s LoadStore) *Loader {
	return &Loader{
		store: s,
		log:   slog.Default().With("component", "loader"),
		ids:   make(map[string]int64),
	}
}

// Load upserts one batch of bars and returns the affected-row count.
// Duplicate (ticker, timestamp, granularity) keys within the batch
// collapse to the last occurrence so the set-based merge never sees the
// same key twice. Tickers unknown to the store are created as
// placeholder instruments first.
func (l *Loader) Load(ctx context.Context, bars []domain.PriceBar) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	bars = dedupeBars(bars)
	if err := l.assignInstrumentIDs(ctx, bars); err != nil {
		return 0, err
	}
	return l.store.UpsertPriceBars(ctx, bars)
}

// dedupeBars removes in-batch duplicates, keeping the last occurrence.
func dedupeBars(bars []domain.PriceBar) []domain.PriceBar {
	type barKey struct {
		ticker      string
		ts          int64
		granularity domain.Granularity
	}

	index := make(map[barKey]int, len(bars))
	out := make([]domain.PriceBar, 0, len(bars))
	for _, b := range bars {
		k := barKey{b.Ticker, b.Timestamp.UnixNano(), b.Granularity}
		if i, seen := index[k]; seen {
			out[i] = b
			continue
		}
		index[k] = len(out)
		out = append(out, b)
	}
	return out
}

// assignInstrumentIDs fills InstrumentID on every bar from the cache,
// resolving and creating unknown tickers in O(1) store round trips.
func (l *Loader) assignInstrumentIDs(ctx context.Context, bars []domain.PriceBar) error {
	l.mu.RLock()
	seen := make(map[string]struct{})
	var unknown []string
	for i := range bars {
		t := bars[i].Ticker
		if _, cached := l.ids[t]; cached {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		unknown = append(unknown, t)
	}
	l.mu.RUnlock()

	if len(unknown) > 0 {
		if err := l.populateCache(ctx, unknown); err != nil {
			return err
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := range bars {
		id, ok := l.ids[bars[i].Ticker]
		if !ok {
			return fmt.Errorf("instrument %s did not resolve", bars[i].Ticker)
		}
		bars[i].InstrumentID = id
	}
	return nil
}

// populateCache resolves symbols against the store, creating placeholder
// instruments for tickers never seen before. Double-checked under the
// write lock: a sibling date-unit may have resolved the same tickers
// while this one waited.
func (l *Loader) populateCache(ctx context.Context, symbols []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := symbols[:0]
	for _, s := range symbols {
		if _, cached := l.ids[s]; !cached {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	ids, err := l.store.ResolveInstrumentIDs(ctx, pending)
	if err != nil {
		return fmt.Errorf("resolving %d tickers: %w", len(pending), err)
	}

	var missing []string
	for _, s := range pending {
		if _, ok := ids[s]; !ok {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		if err := l.store.CreateMissingInstruments(ctx, missing); err != nil {
			return fmt.Errorf("creating %d placeholder instruments: %w", len(missing), err)
		}
		created, err := l.store.ResolveInstrumentIDs(ctx, missing)
		if err != nil {
			return fmt.Errorf("re-resolving created tickers: %w", err)
		}
		l.log.Info("created placeholder instruments", "count", len(created))
		for s, id := range created {
			ids[s] = id
		}
	}

	for s, id := range ids {
		l.ids[s] = id
	}
	return nil
}
