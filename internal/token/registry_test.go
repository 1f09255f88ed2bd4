package token

import "testing"

func TestSelectBestPicksLowestLoadRatio(t *testing.T) {
	r := NewRegistry([]ChatServerInfo{
		{ID: "b", MaxConnections: 100, CurrentLoad: 50, Active: true},
		{ID: "a", MaxConnections: 100, CurrentLoad: 10, Active: true},
		{ID: "c", MaxConnections: 100, CurrentLoad: 90, Active: true},
	})

	got, ok := r.SelectBest()
	if !ok {
		t.Fatal("expected a selection")
	}
	if got.ID != "a" {
		t.Fatalf("selected %q, want %q", got.ID, "a")
	}

	// SelectBest bumps the winner's load by one before returning.
	snap := r.Snapshot()
	for _, s := range snap {
		if s.ID == "a" && s.CurrentLoad != 11 {
			t.Fatalf("CurrentLoad after selection = %d, want 11", s.CurrentLoad)
		}
	}
}

func TestSelectBestTieBreaksLexicographically(t *testing.T) {
	r := NewRegistry([]ChatServerInfo{
		{ID: "zzz", MaxConnections: 100, CurrentLoad: 0, Active: true},
		{ID: "aaa", MaxConnections: 100, CurrentLoad: 0, Active: true},
	})
	got, ok := r.SelectBest()
	if !ok || got.ID != "aaa" {
		t.Fatalf("got %+v, ok=%v, want id=aaa", got, ok)
	}
}

func TestSelectBestDiscardsFullOrInactiveServers(t *testing.T) {
	r := NewRegistry([]ChatServerInfo{
		{ID: "full", MaxConnections: 10, CurrentLoad: 10, Active: true},
		{ID: "inactive", MaxConnections: 10, CurrentLoad: 0, Active: false},
	})
	if _, ok := r.SelectBest(); ok {
		t.Fatal("expected no eligible server")
	}
}

func TestApplyDeltaClampsAtZero(t *testing.T) {
	r := NewRegistry([]ChatServerInfo{{ID: "a", MaxConnections: 10, CurrentLoad: 0, Active: true}})
	r.ApplyDelta("a", -5)
	snap := r.Snapshot()
	if snap[0].CurrentLoad != 0 {
		t.Fatalf("CurrentLoad = %d, want 0 (clamped)", snap[0].CurrentLoad)
	}
}

func TestApplyDeltaIgnoresUnknownServer(t *testing.T) {
	r := NewRegistry(nil)
	r.ApplyDelta("ghost", 5) // must not panic
	if len(r.Snapshot()) != 0 {
		t.Fatal("expected empty registry")
	}
}
