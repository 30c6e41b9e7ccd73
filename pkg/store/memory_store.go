package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"taletinker/pkg/domain"
)

type lineKey struct {
	previousID string
	text       string
}

type memState struct {
	users        map[string]domain.User
	lines        map[string]domain.Line
	lineKeys     map[lineKey]string
	lineChildren map[string]int
	lineLikes    map[string]map[string]struct{}
	stories      map[int64]domain.Story
	storyUUIDs   map[string]int64
	storyLikes   map[int64]map[string]struct{}
	texts        map[int64][]domain.StoryText
	images       map[int64][]domain.StoryImage
	audio        map[int64][]domain.StoryAudio
	playlists    map[string]domain.Playlist
	seq          int64
}

func newMemState() *memState {
	return &memState{
		users:        make(map[string]domain.User),
		lines:        make(map[string]domain.Line),
		lineKeys:     make(map[lineKey]string),
		lineChildren: make(map[string]int),
		lineLikes:    make(map[string]map[string]struct{}),
		stories:      make(map[int64]domain.Story),
		storyUUIDs:   make(map[string]int64),
		storyLikes:   make(map[int64]map[string]struct{}),
		texts:        make(map[int64][]domain.StoryText),
		images:       make(map[int64][]domain.StoryImage),
		audio:        make(map[int64][]domain.StoryAudio),
		playlists:    make(map[string]domain.Playlist),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.lineKeys {
		c.lineKeys[k] = v
	}
	for k, v := range s.lineChildren {
		c.lineChildren[k] = v
	}
	for k, v := range s.lineLikes {
		c.lineLikes[k] = cloneSet(v)
	}
	for k, v := range s.stories {
		c.stories[k] = v
	}
	for k, v := range s.storyUUIDs {
		c.storyUUIDs[k] = v
	}
	for k, v := range s.storyLikes {
		c.storyLikes[k] = cloneSet(v)
	}
	for k, v := range s.texts {
		c.texts[k] = append([]domain.StoryText(nil), v...)
	}
	for k, v := range s.images {
		c.images[k] = append([]domain.StoryImage(nil), v...)
	}
	for k, v := range s.audio {
		c.audio[k] = append([]domain.StoryAudio(nil), v...)
	}
	for k, v := range s.playlists {
		c.playlists[k] = clonePlaylist(v)
	}
	c.seq = s.seq
	return c
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func clonePlaylist(p domain.Playlist) domain.Playlist {
	p.Entries = append([]domain.PlaylistEntry(nil), p.Entries...)
	p.Order = append([]int64(nil), p.Order...)
	return p
}

// MemoryStore keeps everything in-process. It backs tests and local runs
// without Postgres.
type MemoryStore struct {
	mu    *sync.RWMutex
	txMu  *sync.Mutex
	state *memState
	inTx  bool
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:    &sync.RWMutex{},
		txMu:  &sync.Mutex{},
		state: newMemState(),
	}
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only if fn succeeds. Transactions are serialized.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if m.inTx {
		return fn(m)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	child := &MemoryStore{mu: &sync.RWMutex{}, txMu: &sync.Mutex{}, state: work, inTx: true}
	if err := fn(child); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) read(fn func(s *memState)) {
	if m.inTx {
		fn(m.state)
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.state)
}

func (m *MemoryStore) write(fn func(s *memState) error) error {
	if m.inTx {
		return fn(m.state)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.state)
}

// SaveUser registers or refreshes a user profile.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	return m.write(func(s *memState) error {
		if existing, ok := s.users[u.ID]; ok && u.CreatedAt.IsZero() {
			u.CreatedAt = existing.CreatedAt
		}
		s.users[u.ID] = u
		return nil
	})
}

// GetUsers returns the known users among ids.
func (m *MemoryStore) GetUsers(_ context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	m.read(func(s *memState) {
		for _, id := range ids {
			if u, ok := s.users[id]; ok {
				out[id] = u
			}
		}
	})
	return out, nil
}

// FindLine looks a line up by its identity.
func (m *MemoryStore) FindLine(_ context.Context, text, previousID string) (domain.Line, bool, error) {
	var (
		line domain.Line
		ok   bool
	)
	m.read(func(s *memState) {
		var id string
		if id, ok = s.lineKeys[lineKey{previousID: previousID, text: text}]; ok {
			line = s.lines[id]
		}
	})
	return line, ok, nil
}

// CreateLine inserts a line, returning ErrDuplicate if its identity is taken.
func (m *MemoryStore) CreateLine(_ context.Context, line domain.Line) error {
	return m.write(func(s *memState) error {
		key := lineKey{previousID: line.PreviousID, text: line.Text}
		if _, exists := s.lineKeys[key]; exists {
			return ErrDuplicate
		}
		if _, exists := s.lines[line.ID]; exists {
			return ErrDuplicate
		}
		s.lines[line.ID] = line
		s.lineKeys[key] = line.ID
		if line.PreviousID != "" {
			s.lineChildren[line.PreviousID]++
		}
		return nil
	})
}

// GetLine returns a line by ID.
func (m *MemoryStore) GetLine(_ context.Context, id string) (domain.Line, bool, error) {
	var (
		line domain.Line
		ok   bool
	)
	m.read(func(s *memState) {
		line, ok = s.lines[id]
	})
	return line, ok, nil
}

// GetLines returns the lines with the given IDs.
func (m *MemoryStore) GetLines(_ context.Context, ids []string) (map[string]domain.Line, error) {
	out := make(map[string]domain.Line, len(ids))
	m.read(func(s *memState) {
		for _, id := range ids {
			if line, ok := s.lines[id]; ok {
				out[id] = line
			}
		}
	})
	return out, nil
}

// CountLines returns the number of lines in the forest.
func (m *MemoryStore) CountLines(_ context.Context) (int, error) {
	var n int
	m.read(func(s *memState) {
		n = len(s.lines)
	})
	return n, nil
}

// CountLineChildren returns how many lines point at id.
func (m *MemoryStore) CountLineChildren(_ context.Context, id string) (int, error) {
	var n int
	m.read(func(s *memState) {
		n = s.lineChildren[id]
	})
	return n, nil
}

// ToggleLineLike flips a user's like on a line and returns the new state.
func (m *MemoryStore) ToggleLineLike(_ context.Context, lineID, userID string) (bool, int, error) {
	var (
		liked bool
		count int
	)
	err := m.write(func(s *memState) error {
		liked, count = toggleSet(s.lineLikes, lineID, userID)
		return nil
	})
	return liked, count, err
}

// LineLikes returns like counts for lineIDs and whether userID liked each.
func (m *MemoryStore) LineLikes(_ context.Context, lineIDs []string, userID string) (map[string]domain.LikeState, error) {
	out := make(map[string]domain.LikeState, len(lineIDs))
	m.read(func(s *memState) {
		for _, id := range lineIDs {
			out[id] = likeState(s.lineLikes[id], userID)
		}
	})
	return out, nil
}

// CreateStory inserts a story and assigns its numeric ID.
func (m *MemoryStore) CreateStory(_ context.Context, story *domain.Story) error {
	return m.write(func(s *memState) error {
		if _, exists := s.storyUUIDs[story.UUID]; exists {
			return ErrDuplicate
		}
		s.seq++
		story.ID = s.seq
		s.stories[story.ID] = *story
		s.storyUUIDs[story.UUID] = story.ID
		return nil
	})
}

// GetStoryByUUID returns a story by its public identifier.
func (m *MemoryStore) GetStoryByUUID(_ context.Context, uuid string) (domain.Story, bool, error) {
	var (
		story domain.Story
		ok    bool
	)
	m.read(func(s *memState) {
		var id int64
		if id, ok = s.storyUUIDs[uuid]; ok {
			story, ok = s.stories[id]
		}
	})
	return story, ok, nil
}

// GetStoryByID returns a story by its numeric ID.
func (m *MemoryStore) GetStoryByID(_ context.Context, id int64) (domain.Story, bool, error) {
	var (
		story domain.Story
		ok    bool
	)
	m.read(func(s *memState) {
		story, ok = s.stories[id]
	})
	return story, ok, nil
}

// GetStoriesByID returns the stories that still exist among ids.
func (m *MemoryStore) GetStoriesByID(_ context.Context, ids []int64) (map[int64]domain.Story, error) {
	out := make(map[int64]domain.Story, len(ids))
	m.read(func(s *memState) {
		for _, id := range ids {
			if story, ok := s.stories[id]; ok {
				out[id] = story
			}
		}
	})
	return out, nil
}

// UpdateStoryMeta sets title and/or tagline. Nil fields are left unchanged.
func (m *MemoryStore) UpdateStoryMeta(_ context.Context, id int64, title, tagline *string) error {
	return m.write(func(s *memState) error {
		story, ok := s.stories[id]
		if !ok {
			return nil
		}
		if title != nil {
			story.Title = *title
		}
		if tagline != nil {
			story.Tagline = *tagline
		}
		story.UpdatedAt = time.Now().UTC()
		s.stories[id] = story
		return nil
	})
}

// SetStoryPublished toggles visibility of a story.
func (m *MemoryStore) SetStoryPublished(_ context.Context, id int64, published bool) error {
	return m.write(func(s *memState) error {
		story, ok := s.stories[id]
		if !ok {
			return nil
		}
		story.IsPublished = published
		story.UpdatedAt = time.Now().UTC()
		s.stories[id] = story
		return nil
	})
}

// DeleteStory removes a story with its likes and assets.
func (m *MemoryStore) DeleteStory(_ context.Context, id int64) error {
	return m.write(func(s *memState) error {
		story, ok := s.stories[id]
		if !ok {
			return nil
		}
		delete(s.storyUUIDs, story.UUID)
		delete(s.stories, id)
		delete(s.storyLikes, id)
		delete(s.texts, id)
		delete(s.images, id)
		delete(s.audio, id)
		return nil
	})
}

// ListStories returns stories matching q, newest first unless sorted by likes.
func (m *MemoryStore) ListStories(_ context.Context, q StoryQuery) ([]domain.Story, error) {
	var items []domain.Story
	m.read(func(s *memState) {
		search := strings.ToLower(strings.TrimSpace(q.Search))
		for _, story := range s.stories {
			if q.PublishedOnly && !story.IsPublished {
				continue
			}
			if q.AuthorID != "" && attributedAuthor(s, story) != q.AuthorID {
				continue
			}
			if q.LikedBy != "" {
				if _, ok := s.storyLikes[story.ID][q.LikedBy]; !ok {
					continue
				}
			}
			if q.Age > 0 && (story.Parameters == nil || story.Parameters.Age != q.Age) {
				continue
			}
			if q.Language != "" && !hasText(s.texts[story.ID], q.Language) {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(story.Title), search) {
				continue
			}
			items = append(items, story)
		}
		sort.Slice(items, func(i, j int) bool {
			if q.Sort == SortLikes {
				li, lj := len(s.storyLikes[items[i].ID]), len(s.storyLikes[items[j].ID])
				if li != lj {
					return li > lj
				}
			}
			if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
				return items[i].CreatedAt.After(items[j].CreatedAt)
			}
			return items[i].ID > items[j].ID
		})
	})
	if q.Offset > 0 {
		if q.Offset >= len(items) {
			return []domain.Story{}, nil
		}
		items = items[q.Offset:]
	}
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	if items == nil {
		items = []domain.Story{}
	}
	return items, nil
}

func attributedAuthor(s *memState, story domain.Story) string {
	if story.Variant == domain.VariantTree {
		return s.lines[story.LastLineID].AuthorID
	}
	return story.AuthorID
}

func hasText(texts []domain.StoryText, lang domain.Language) bool {
	for _, t := range texts {
		if t.Language == lang {
			return true
		}
	}
	return false
}

// ToggleStoryLike flips a user's like on a story and returns the new state.
func (m *MemoryStore) ToggleStoryLike(_ context.Context, storyID int64, userID string) (bool, int, error) {
	var (
		liked bool
		count int
	)
	err := m.write(func(s *memState) error {
		liked, count = toggleSet(s.storyLikes, storyID, userID)
		return nil
	})
	return liked, count, err
}

// StoryLikes returns like counts for storyIDs and whether userID liked each.
func (m *MemoryStore) StoryLikes(_ context.Context, storyIDs []int64, userID string) (map[int64]domain.LikeState, error) {
	out := make(map[int64]domain.LikeState, len(storyIDs))
	m.read(func(s *memState) {
		for _, id := range storyIDs {
			out[id] = likeState(s.storyLikes[id], userID)
		}
	})
	return out, nil
}

func toggleSet[K comparable](likes map[K]map[string]struct{}, key K, userID string) (bool, int) {
	users := likes[key]
	if _, ok := users[userID]; ok {
		delete(users, userID)
		return false, len(users)
	}
	if users == nil {
		users = make(map[string]struct{})
		likes[key] = users
	}
	users[userID] = struct{}{}
	return true, len(users)
}

func likeState(users map[string]struct{}, userID string) domain.LikeState {
	state := domain.LikeState{LikeCount: len(users)}
	if userID != "" {
		_, state.IsLiked = users[userID]
	}
	return state
}

// ListTexts returns texts per story in creation order.
func (m *MemoryStore) ListTexts(_ context.Context, storyIDs []int64) (map[int64][]domain.StoryText, error) {
	out := make(map[int64][]domain.StoryText, len(storyIDs))
	m.read(func(s *memState) {
		for _, id := range storyIDs {
			if texts := s.texts[id]; len(texts) > 0 {
				out[id] = append([]domain.StoryText(nil), texts...)
			}
		}
	})
	return out, nil
}

// GetText returns the text of a story in one language.
func (m *MemoryStore) GetText(_ context.Context, storyID int64, lang domain.Language) (domain.StoryText, bool, error) {
	var (
		text domain.StoryText
		ok   bool
	)
	m.read(func(s *memState) {
		for _, t := range s.texts[storyID] {
			if t.Language == lang {
				text, ok = t, true
				return
			}
		}
	})
	return text, ok, nil
}

// CreateText inserts a text, returning ErrDuplicate when the language exists.
func (m *MemoryStore) CreateText(_ context.Context, text *domain.StoryText) error {
	return m.write(func(s *memState) error {
		if hasText(s.texts[text.StoryID], text.Language) {
			return ErrDuplicate
		}
		s.seq++
		text.ID = s.seq
		s.texts[text.StoryID] = append(s.texts[text.StoryID], *text)
		return nil
	})
}

// ListImages returns images per story in creation order.
func (m *MemoryStore) ListImages(_ context.Context, storyIDs []int64) (map[int64][]domain.StoryImage, error) {
	out := make(map[int64][]domain.StoryImage, len(storyIDs))
	m.read(func(s *memState) {
		for _, id := range storyIDs {
			if images := s.images[id]; len(images) > 0 {
				out[id] = append([]domain.StoryImage(nil), images...)
			}
		}
	})
	return out, nil
}

// CreateImage records a generated image.
func (m *MemoryStore) CreateImage(_ context.Context, image *domain.StoryImage) error {
	return m.write(func(s *memState) error {
		s.seq++
		image.ID = s.seq
		s.images[image.StoryID] = append(s.images[image.StoryID], *image)
		return nil
	})
}

// ListAudio returns audio per story in creation order.
func (m *MemoryStore) ListAudio(_ context.Context, storyIDs []int64) (map[int64][]domain.StoryAudio, error) {
	out := make(map[int64][]domain.StoryAudio, len(storyIDs))
	m.read(func(s *memState) {
		for _, id := range storyIDs {
			if audio := s.audio[id]; len(audio) > 0 {
				out[id] = append([]domain.StoryAudio(nil), audio...)
			}
		}
	})
	return out, nil
}

// GetAudio returns the narration of a story in one language.
func (m *MemoryStore) GetAudio(_ context.Context, storyID int64, lang domain.Language) (domain.StoryAudio, bool, error) {
	var (
		audio domain.StoryAudio
		ok    bool
	)
	m.read(func(s *memState) {
		for _, a := range s.audio[storyID] {
			if a.Language == lang {
				audio, ok = a, true
				return
			}
		}
	})
	return audio, ok, nil
}

// CreateAudio inserts a narration, returning ErrDuplicate when the language exists.
func (m *MemoryStore) CreateAudio(_ context.Context, audio *domain.StoryAudio) error {
	return m.write(func(s *memState) error {
		for _, a := range s.audio[audio.StoryID] {
			if a.Language == audio.Language {
				return ErrDuplicate
			}
		}
		s.seq++
		audio.ID = s.seq
		s.audio[audio.StoryID] = append(s.audio[audio.StoryID], *audio)
		return nil
	})
}

// GetPlaylist returns a user's playlist.
func (m *MemoryStore) GetPlaylist(_ context.Context, userID string) (domain.Playlist, bool, error) {
	var (
		p  domain.Playlist
		ok bool
	)
	m.read(func(s *memState) {
		p, ok = s.playlists[userID]
		if ok {
			p = clonePlaylist(p)
		}
	})
	return p, ok, nil
}

// SavePlaylist stores or replaces a user's playlist.
func (m *MemoryStore) SavePlaylist(_ context.Context, p domain.Playlist) error {
	return m.write(func(s *memState) error {
		s.playlists[p.UserID] = clonePlaylist(p)
		return nil
	})
}
