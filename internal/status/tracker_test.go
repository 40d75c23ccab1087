package status

import (
	"sync"
	"testing"
	"time"

	"github.com/seantiz/proctor/internal/model"
)

func entryFinishedAt(id string, finished time.Time) *model.StatusEntry {
	return &model.StatusEntry{
		ID:         id,
		Kind:       model.KindScript,
		Status:     model.StatusCompleted,
		CreatedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
	}
}

func TestSetGet(t *testing.T) {
	tr := NewTracker()

	if _, ok := tr.Get("missing"); ok {
		t.Error("Get on empty tracker should report absent")
	}

	e := &model.StatusEntry{ID: "a", Status: model.StatusPending}
	tr.Set(e)

	got, ok := tr.Get("a")
	if !ok {
		t.Fatal("Get should find stored entry")
	}
	if got.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestSetReplacesEntry(t *testing.T) {
	tr := NewTracker()
	tr.Set(&model.StatusEntry{ID: "a", Status: model.StatusPending})
	tr.Set(&model.StatusEntry{ID: "a", Status: model.StatusRunning})

	got, _ := tr.Get("a")
	if got.Status != model.StatusRunning {
		t.Errorf("status = %q, want running", got.Status)
	}
	if tr.Len() != 1 {
		t.Errorf("Len = %d, want 1 (one entry per identifier)", tr.Len())
	}
}

func TestSweepRemovesOldCompleted(t *testing.T) {
	tr := NewTracker()
	tr.Set(entryFinishedAt("old", time.Now().UTC().Add(-time.Hour)))
	tr.Set(entryFinishedAt("fresh", time.Now().UTC()))

	removed := tr.Sweep(30 * time.Minute)
	if len(removed) != 1 || removed[0] != "old" {
		t.Fatalf("Sweep removed %v, want [old]", removed)
	}

	if _, ok := tr.Get("old"); ok {
		t.Error("old entry should be purged")
	}
	if _, ok := tr.Get("fresh"); !ok {
		t.Error("fresh entry should be retained")
	}
}

func TestSweepNeverPurgesActive(t *testing.T) {
	tr := NewTracker()
	tr.Set(entryFinishedAt("inflight", time.Now().UTC().Add(-time.Hour)))
	tr.MarkActive("inflight")

	if removed := tr.Sweep(time.Minute); len(removed) != 0 {
		t.Fatalf("Sweep removed %v, want none while active", removed)
	}

	tr.MarkDone("inflight")
	if removed := tr.Sweep(time.Minute); len(removed) != 1 {
		t.Fatalf("Sweep after MarkDone removed %d entries, want 1", len(removed))
	}
}

func TestSweepKeepsEntriesWithoutFinishTime(t *testing.T) {
	tr := NewTracker()
	tr.Set(&model.StatusEntry{ID: "pending", Status: model.StatusPending, CreatedAt: time.Now().UTC().Add(-time.Hour)})

	if removed := tr.Sweep(time.Minute); len(removed) != 0 {
		t.Fatalf("Sweep removed %v, want none for unfinished entries", removed)
	}
}

func TestConcurrentReadersSingleWriter(t *testing.T) {
	tr := NewTracker()
	tr.Set(&model.StatusEntry{ID: "a", Status: model.StatusPending})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					tr.Get("a")
					tr.List()
				}
			}
		}()
	}

	for _, status := range []string{model.StatusRunning, model.StatusCompleted} {
		tr.Set(&model.StatusEntry{ID: "a", Status: status})
	}
	close(stop)
	wg.Wait()

	got, _ := tr.Get("a")
	if got.Status != model.StatusCompleted {
		t.Errorf("final status = %q, want completed", got.Status)
	}
}
