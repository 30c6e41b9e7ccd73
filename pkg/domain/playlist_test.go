package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPlaylistReorderSubsetKeepsUnlistedLast(t *testing.T) {
	now := time.Now().UTC()
	const a, b, c int64 = 1, 2, 3
	var p Playlist
	p.Add(a, now)
	p.Add(b, now)
	p.Add(c, now)

	p.Reorder([]int64{c, a}, now)

	if diff := cmp.Diff([]int64{c, a, b}, p.Ordered()); diff != "" {
		t.Fatalf("ordered mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaylistIgnoresStaleOrderIDs(t *testing.T) {
	now := time.Now().UTC()
	p := Playlist{
		Entries: []PlaylistEntry{{StoryID: 10, AddedAt: now}, {StoryID: 11, AddedAt: now}},
		Order:   []int64{99, 11, 11},
	}
	if diff := cmp.Diff([]int64{11, 10}, p.Ordered()); diff != "" {
		t.Fatalf("ordered mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaylistAddRemove(t *testing.T) {
	now := time.Now().UTC()
	var p Playlist
	if !p.Add(5, now) {
		t.Fatalf("first add should report true")
	}
	if p.Add(5, now) {
		t.Fatalf("duplicate add should report false")
	}
	p.Add(6, now)
	if !p.Remove(5, now) {
		t.Fatalf("remove existing should report true")
	}
	if p.Remove(5, now) {
		t.Fatalf("remove missing should report false")
	}
	if diff := cmp.Diff([]int64{6}, p.Order); diff != "" {
		t.Fatalf("order not pruned (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{6}, p.Ordered()); diff != "" {
		t.Fatalf("ordered mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaylistReorderDropsDuplicates(t *testing.T) {
	now := time.Now().UTC()
	var p Playlist
	p.Add(1, now)
	p.Add(2, now)
	p.Reorder([]int64{2, 2, 1}, now)
	if diff := cmp.Diff([]int64{2, 1}, p.Order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}
