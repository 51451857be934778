package realtime

import (
	"context"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/ldi/sprintboard/pkg/models"
)

// Batch summarises one burst of changes.
type Batch struct {
	Tables  []string
	Changes int
	First   time.Time
	Last    time.Time
}

// Touched reports whether table changed in the burst.
func (b Batch) Touched(table string) bool {
	return slices.Contains(b.Tables, table)
}

// Coordinator is the single consumer of a change sequence. It waits for a
// quiet period of Debounce after the latest change, but never longer than
// MaxWait after the first change of a burst, then calls Recompute once.
type Coordinator struct {
	Debounce  time.Duration
	MaxWait   time.Duration
	Recompute func(ctx context.Context, b Batch) error
	Logger    *slog.Logger
}

// Run consumes seq until it ends or ctx is done. A burst still pending when
// seq ends is flushed; one pending at cancellation is dropped.
func (c *Coordinator) Run(ctx context.Context, seq iter.Seq[models.Change]) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := c.Debounce
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	maxWait := c.MaxWait
	if maxWait < debounce {
		maxWait = debounce
	}

	changes := make(chan models.Change)
	go func() {
		defer close(changes)
		for change := range seq {
			select {
			case changes <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	quiet := time.NewTimer(debounce)
	quiet.Stop()
	deadline := time.NewTimer(maxWait)
	deadline.Stop()
	defer quiet.Stop()
	defer deadline.Stop()

	var pending *burst
	flush := func(reason string) {
		if pending == nil {
			return
		}
		b := pending.batch()
		pending = nil
		quiet.Stop()
		deadline.Stop()

		logger.Debug("recompute", "reason", reason, "tables", b.Tables, "changes", b.Changes)
		if c.Recompute == nil {
			return
		}
		if err := c.Recompute(ctx, b); err != nil {
			logger.Warn("recompute failed", "tables", b.Tables, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case change, ok := <-changes:
			if !ok {
				flush("closed")
				return nil
			}
			now := time.Now()
			if pending == nil {
				pending = newBurst(now)
				deadline.Reset(maxWait)
			}
			pending.add(change, now)
			quiet.Reset(debounce)

		case <-quiet.C:
			flush("quiet")

		case <-deadline.C:
			flush("max_wait")
		}
	}
}

type burst struct {
	tables  map[string]struct{}
	changes int
	first   time.Time
	last    time.Time
}

func newBurst(now time.Time) *burst {
	return &burst{tables: make(map[string]struct{}), first: now}
}

func (b *burst) add(c models.Change, now time.Time) {
	b.tables[c.Table] = struct{}{}
	b.changes++
	b.last = now
}

func (b *burst) batch() Batch {
	tables := make([]string, 0, len(b.tables))
	for t := range b.tables {
		tables = append(tables, t)
	}
	slices.Sort(tables)
	return Batch{Tables: tables, Changes: b.changes, First: b.first, Last: b.last}
}
