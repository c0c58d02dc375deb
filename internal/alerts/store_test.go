package alerts

import (
	"testing"
	"time"

	"attackwatch/internal/model"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(2)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		s.Add(model.DispatchRecord{Timestamp: base.Add(time.Duration(i) * time.Second), CycleID: string(rune('a' + i)), Delivered: i != 1})
	}
	list := s.List(0)
	if len(list) != 2 || list[0].CycleID != "b" || list[1].CycleID != "c" {
		t.Fatalf("unexpected ring contents: %+v", list)
	}
	if got := s.List(1); len(got) != 1 || got[0].CycleID != "c" {
		t.Fatalf("expected newest record, got %+v", got)
	}
	if failed := s.Failed(); len(failed) != 1 || failed[0].CycleID != "b" {
		t.Fatalf("expected one failed record, got %+v", failed)
	}
	if since := s.Since(base.Add(2 * time.Second)); len(since) != 1 {
		t.Fatalf("expected 1 record since cutoff, got %d", len(since))
	}
	s.Clear()
	if len(s.List(0)) != 0 {
		t.Fatalf("expected empty store after clear")
	}
}
