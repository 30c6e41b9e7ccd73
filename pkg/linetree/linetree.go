// Package linetree maintains the forest of immutable story lines.
//
// A line is identified by its text together with its parent, so chains that
// share a prefix share the nodes of that prefix. Lines are never modified
// after creation and may only point at lines that already exist, which keeps
// the structure acyclic.
package linetree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"taletinker/pkg/domain"
	"taletinker/pkg/store"
)

// MaxDepth bounds traversal. Deeper chains are treated as corrupt data.
const MaxDepth = 1000

var (
	ErrEmptyChain   = errors.New("story must have at least one line")
	ErrBlankLine    = errors.New("story lines must not be blank")
	ErrLineNotFound = errors.New("line not found")
	ErrCorruptChain = errors.New("line chain is corrupt")
)

// Lines is the storage the tree needs.
type Lines interface {
	FindLine(ctx context.Context, text, previousID string) (domain.Line, bool, error)
	CreateLine(ctx context.Context, line domain.Line) error
	GetLine(ctx context.Context, id string) (domain.Line, bool, error)
	CountLineChildren(ctx context.Context, id string) (int, error)
	ToggleLineLike(ctx context.Context, lineID, userID string) (bool, int, error)
}

// AppendChain walks texts from the root, reusing every (text, previous) node
// that already exists and creating the rest. Reused nodes keep their original
// author. It returns the tip and how many lines were created.
//
// Callers run it inside one transaction together with whatever points at the tip.
func AppendChain(ctx context.Context, lines Lines, texts []string, authorID string) (domain.Line, int, error) {
	return appendChain(ctx, lines, texts, authorID, true)
}

// AppendGenerated is AppendChain for text produced by the generation
// service. New nodes are marked as not written by hand.
func AppendGenerated(ctx context.Context, lines Lines, texts []string, authorID string) (domain.Line, int, error) {
	return appendChain(ctx, lines, texts, authorID, false)
}

func appendChain(ctx context.Context, lines Lines, texts []string, authorID string, manual bool) (domain.Line, int, error) {
	if len(texts) == 0 {
		return domain.Line{}, 0, ErrEmptyChain
	}
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			return domain.Line{}, 0, ErrBlankLine
		}
	}

	var (
		tip     domain.Line
		created int
	)
	previousID := ""
	for _, text := range texts {
		line, isNew, err := findOrCreate(ctx, lines, text, previousID, authorID, manual)
		if err != nil {
			return domain.Line{}, 0, err
		}
		if isNew {
			created++
		}
		tip = line
		previousID = line.ID
	}
	return tip, created, nil
}

func findOrCreate(ctx context.Context, lines Lines, text, previousID, authorID string, manual bool) (domain.Line, bool, error) {
	existing, ok, err := lines.FindLine(ctx, text, previousID)
	if err != nil {
		return domain.Line{}, false, fmt.Errorf("find line: %w", err)
	}
	if ok {
		return existing, false, nil
	}
	line := domain.Line{
		ID:         uuid.NewString(),
		Text:       text,
		PreviousID: previousID,
		AuthorID:   authorID,
		IsManual:   manual,
		CreatedAt:  time.Now().UTC(),
	}
	err = lines.CreateLine(ctx, line)
	if err == nil {
		return line, true, nil
	}
	if !errors.Is(err, store.ErrDuplicate) {
		return domain.Line{}, false, fmt.Errorf("create line: %w", err)
	}
	// A concurrent writer created the same node first.
	existing, ok, err = lines.FindLine(ctx, text, previousID)
	if err != nil {
		return domain.Line{}, false, fmt.Errorf("find line after conflict: %w", err)
	}
	if !ok {
		return domain.Line{}, false, fmt.Errorf("line vanished after conflict: %w", ErrCorruptChain)
	}
	return existing, false, nil
}

// Traverse returns the path from the root to tip, root first.
func Traverse(ctx context.Context, lines Lines, tipID string) ([]domain.Line, error) {
	if strings.TrimSpace(tipID) == "" {
		return []domain.Line{}, nil
	}
	path := make([]domain.Line, 0, 8)
	nextID := tipID
	for depth := 0; nextID != ""; depth++ {
		if depth >= MaxDepth {
			return nil, fmt.Errorf("%w: deeper than %d lines from %s", ErrCorruptChain, MaxDepth, tipID)
		}
		line, ok, err := lines.GetLine(ctx, nextID)
		if err != nil {
			return nil, fmt.Errorf("load line: %w", err)
		}
		if !ok {
			if depth == 0 {
				return nil, ErrLineNotFound
			}
			return nil, fmt.Errorf("%w: missing parent %s", ErrCorruptChain, nextID)
		}
		path = append(path, line)
		nextID = line.PreviousID
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// Texts returns the text of each line in order.
func Texts(path []domain.Line) []string {
	out := make([]string, 0, len(path))
	for _, line := range path {
		out = append(out, line.Text)
	}
	return out
}

// ToggleLike flips the user's like on a line.
func ToggleLike(ctx context.Context, lines Lines, lineID, userID string) (domain.LikeState, error) {
	if _, ok, err := lines.GetLine(ctx, lineID); err != nil {
		return domain.LikeState{}, fmt.Errorf("load line: %w", err)
	} else if !ok {
		return domain.LikeState{}, ErrLineNotFound
	}
	liked, count, err := lines.ToggleLineLike(ctx, lineID, userID)
	if err != nil {
		return domain.LikeState{}, fmt.Errorf("toggle line like: %w", err)
	}
	return domain.LikeState{IsLiked: liked, LikeCount: count}, nil
}

// ChildCount returns how many lines continue from lineID.
func ChildCount(ctx context.Context, lines Lines, lineID string) (int, error) {
	if _, ok, err := lines.GetLine(ctx, lineID); err != nil {
		return 0, fmt.Errorf("load line: %w", err)
	} else if !ok {
		return 0, ErrLineNotFound
	}
	return lines.CountLineChildren(ctx, lineID)
}
