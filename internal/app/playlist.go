package app

import (
	"context"
	"strconv"
	"strings"

	"taletinker/pkg/domain"
	"taletinker/pkg/store"
)

// PlaylistView is a user's playlist in display order.
type PlaylistView struct {
	Stories []StorySummary `json:"stories"`
}

// GetPlaylist returns the actor's stories in playlist order. Members whose
// story was deleted are skipped.
func (a *App) GetPlaylist(ctx context.Context, actor Actor) (PlaylistView, error) {
	if !actor.Authenticated() {
		return PlaylistView{}, unauthorized()
	}
	playlist, _, err := a.store.GetPlaylist(ctx, actor.ID)
	if err != nil {
		return PlaylistView{}, internalError("load playlist", err)
	}
	return a.playlistView(ctx, actor, playlist)
}

// PlaylistAdd appends a story to the actor's playlist. Adding a member again
// is a no-op.
func (a *App) PlaylistAdd(ctx context.Context, actor Actor, ref string) (PlaylistView, error) {
	return a.editPlaylist(ctx, actor, func(tx store.Store, p *domain.Playlist) error {
		story, err := a.findStory(ctx, tx, ref)
		if err != nil {
			return err
		}
		p.Add(story.ID, a.now())
		return nil
	})
}

// PlaylistRemove drops a story from the actor's playlist.
func (a *App) PlaylistRemove(ctx context.Context, actor Actor, ref string) (PlaylistView, error) {
	return a.editPlaylist(ctx, actor, func(tx store.Store, p *domain.Playlist) error {
		story, err := a.findStory(ctx, tx, ref)
		if err != nil {
			// Stale ids of deleted stories can still be pruned by number.
			if KindOf(err) != KindNotFound {
				return err
			}
			for _, id := range p.Ordered() {
				if strconv.FormatInt(id, 10) == strings.TrimSpace(ref) {
					p.Remove(id, a.now())
				}
			}
			return nil
		}
		p.Remove(story.ID, a.now())
		return nil
	})
}

// PlaylistReorder replaces the playlist order. Ids need not cover every
// member; unnamed members keep their relative order after the named ones.
func (a *App) PlaylistReorder(ctx context.Context, actor Actor, order []int64) (PlaylistView, error) {
	return a.editPlaylist(ctx, actor, func(_ store.Store, p *domain.Playlist) error {
		p.Reorder(order, a.now())
		return nil
	})
}

func (a *App) editPlaylist(ctx context.Context, actor Actor, edit func(tx store.Store, p *domain.Playlist) error) (PlaylistView, error) {
	if !actor.Authenticated() {
		return PlaylistView{}, unauthorized()
	}
	var playlist domain.Playlist
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		p, ok, err := tx.GetPlaylist(ctx, actor.ID)
		if err != nil {
			return internalError("load playlist", err)
		}
		if !ok {
			p = domain.Playlist{UserID: actor.ID}
		}
		if err := edit(tx, &p); err != nil {
			return err
		}
		if err := tx.SavePlaylist(ctx, p); err != nil {
			return internalError("save playlist", err)
		}
		playlist = p
		return nil
	})
	if err != nil {
		return PlaylistView{}, err
	}
	return a.playlistView(ctx, actor, playlist)
}

func (a *App) playlistView(ctx context.Context, actor Actor, p domain.Playlist) (PlaylistView, error) {
	ids := p.Ordered()
	if len(ids) == 0 {
		return PlaylistView{Stories: []StorySummary{}}, nil
	}
	byID, err := a.store.GetStoriesByID(ctx, ids)
	if err != nil {
		return PlaylistView{}, internalError("load playlist stories", err)
	}
	stories := make([]domain.Story, 0, len(ids))
	for _, id := range ids {
		if story, ok := byID[id]; ok {
			stories = append(stories, story)
		}
	}
	items, err := a.summarize(ctx, actor, stories, "")
	if err != nil {
		return PlaylistView{}, err
	}
	return PlaylistView{Stories: items}, nil
}
