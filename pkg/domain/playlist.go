package domain

import "time"

// PlaylistEntry records a story membership and when it was added.
type PlaylistEntry struct {
	StoryID int64     `json:"storyId"`
	AddedAt time.Time `json:"addedAt"`
}

// Playlist is a user's ordered story collection. Order may name only a
// subset of the members; members missing from Order sort after the listed
// ones in insertion order. Ids in Order that are no longer members are
// ignored on read.
type Playlist struct {
	UserID    string          `json:"userId"`
	Entries   []PlaylistEntry `json:"entries"`
	Order     []int64         `json:"order"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Contains reports membership of a story.
func (p *Playlist) Contains(storyID int64) bool {
	for _, e := range p.Entries {
		if e.StoryID == storyID {
			return true
		}
	}
	return false
}

// Add appends a story to the members and the order. It returns false when
// the story is already a member.
func (p *Playlist) Add(storyID int64, now time.Time) bool {
	if p.Contains(storyID) {
		return false
	}
	p.Entries = append(p.Entries, PlaylistEntry{StoryID: storyID, AddedAt: now})
	p.Order = append(removeID(p.Order, storyID), storyID)
	p.UpdatedAt = now
	return true
}

// Remove drops a story from the members and prunes it from the order.
func (p *Playlist) Remove(storyID int64, now time.Time) bool {
	found := false
	entries := p.Entries[:0]
	for _, e := range p.Entries {
		if e.StoryID == storyID {
			found = true
			continue
		}
		entries = append(entries, e)
	}
	p.Entries = entries
	p.Order = removeID(p.Order, storyID)
	if found {
		p.UpdatedAt = now
	}
	return found
}

// Reorder replaces the order wholesale. Members are not checked, so a caller
// may reorder just the subset it displays.
func (p *Playlist) Reorder(ids []int64, now time.Time) {
	order := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}
	p.Order = order
	p.UpdatedAt = now
}

// Ordered projects the members through Order.
func (p *Playlist) Ordered() []int64 {
	members := make(map[int64]struct{}, len(p.Entries))
	for _, e := range p.Entries {
		members[e.StoryID] = struct{}{}
	}
	out := make([]int64, 0, len(p.Entries))
	placed := make(map[int64]struct{}, len(p.Entries))
	for _, id := range p.Order {
		if _, ok := members[id]; !ok {
			continue
		}
		if _, dup := placed[id]; dup {
			continue
		}
		placed[id] = struct{}{}
		out = append(out, id)
	}
	for _, e := range p.Entries {
		if _, ok := placed[e.StoryID]; ok {
			continue
		}
		placed[e.StoryID] = struct{}{}
		out = append(out, e.StoryID)
	}
	return out
}

func removeID(ids []int64, target int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
