package realtime

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ldi/sprintboard/pkg/models"
	"pgregory.net/rapid"
)

type recorder struct {
	mu      sync.Mutex
	batches []Batch
}

func (r *recorder) recompute(_ context.Context, b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func sliceSeq(changes []models.Change) iter.Seq[models.Change] {
	return func(yield func(models.Change) bool) {
		for _, c := range changes {
			if !yield(c) {
				return
			}
		}
	}
}

func TestCoordinatorCoalescesBurst(t *testing.T) {
	rec := &recorder{}
	c := &Coordinator{Debounce: time.Hour, MaxWait: time.Hour, Recompute: rec.recompute}

	burst := []models.Change{
		{Table: "tasks", ID: "1"},
		{Table: "task_history", ID: "1"},
		{Table: "tasks", ID: "2"},
		{Table: "comments", ID: "c"},
	}
	if err := c.Run(context.Background(), sliceSeq(burst)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(rec.batches) != 1 {
		t.Fatalf("expected one recompute, got %d", len(rec.batches))
	}
	b := rec.batches[0]
	if diff := cmp.Diff([]string{"comments", "task_history", "tasks"}, b.Tables); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}
	if b.Changes != 4 || !b.Touched("tasks") || b.Touched("users") {
		t.Errorf("unexpected batch: %+v", b)
	}
}

func TestCoordinatorNoChangesNoRecompute(t *testing.T) {
	rec := &recorder{}
	c := &Coordinator{Recompute: rec.recompute}
	if err := c.Run(context.Background(), sliceSeq(nil)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected no recompute, got %d", rec.count())
	}
}

func TestCoordinatorFlushesAfterQuietPeriod(t *testing.T) {
	h := NewHub(8)
	rec := &recorder{}
	c := &Coordinator{Debounce: 10 * time.Millisecond, MaxWait: time.Second, Recompute: rec.recompute}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, h.Subscribe(ctx)) }()

	waitFor(t, func() bool { return h.Subscribers() == 1 })
	h.Publish(models.Change{Table: "tasks"})
	h.Publish(models.Change{Table: "tasks"})

	waitFor(t, func() bool { return rec.count() == 1 })

	h.Publish(models.Change{Table: "notifications"})
	waitFor(t, func() bool { return rec.count() == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected nil on cancel, got %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.batches[0].Changes != 2 || !rec.batches[1].Touched("notifications") {
		t.Errorf("unexpected batches: %+v", rec.batches)
	}
}

func TestCoordinatorMaxWaitBoundsLatency(t *testing.T) {
	rec := &recorder{}
	c := &Coordinator{Debounce: 40 * time.Millisecond, MaxWait: 40 * time.Millisecond, Recompute: rec.recompute}

	// A steady trickle that never goes quiet for a full debounce period.
	trickle := func(yield func(models.Change) bool) {
		for i := 0; i < 40; i++ {
			if !yield(models.Change{Table: "tasks"}) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	if err := c.Run(context.Background(), trickle); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := rec.count(); n < 2 {
		t.Errorf("expected max wait to force intermediate recomputes, got %d", n)
	}

	total := 0
	for _, b := range rec.batches {
		total += b.Changes
	}
	if total != 40 {
		t.Errorf("expected every change accounted for, got %d", total)
	}
}

func TestCoordinatorLogsRecomputeErrors(t *testing.T) {
	calls := 0
	c := &Coordinator{Recompute: func(context.Context, Batch) error {
		calls++
		return errors.New("boom")
	}}
	if err := c.Run(context.Background(), sliceSeq([]models.Change{{Table: "tasks"}})); err != nil {
		t.Fatalf("expected recompute errors not to stop Run, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}

func TestCoordinatorBurstProperty(t *testing.T) {
	tables := []string{"tasks", "task_history", "comments", "notifications", "sprints"}

	rapid.Check(t, func(t *rapid.T) {
		changes := rapid.SliceOfN(rapid.Custom(func(t *rapid.T) models.Change {
			return models.Change{Table: rapid.SampledFrom(tables).Draw(t, "table")}
		}), 1, 50).Draw(t, "changes")

		rec := &recorder{}
		c := &Coordinator{Debounce: time.Hour, MaxWait: time.Hour, Recompute: rec.recompute}
		if err := c.Run(context.Background(), sliceSeq(changes)); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		if len(rec.batches) != 1 {
			t.Fatalf("expected exactly one recompute, got %d", len(rec.batches))
		}
		b := rec.batches[0]
		if b.Changes != len(changes) {
			t.Fatalf("expected %d changes, got %d", len(changes), b.Changes)
		}

		var want []string
		for _, ch := range changes {
			if !slices.Contains(want, ch.Table) {
				want = append(want, ch.Table)
			}
		}
		slices.Sort(want)
		if !slices.Equal(want, b.Tables) {
			t.Fatalf("tables: want %v, got %v", want, b.Tables)
		}
	})
}
