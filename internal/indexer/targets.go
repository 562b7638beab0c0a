package indexer

import (
	"context"

	"github.com/HendryAvila/indexbridge/internal/index"
	"github.com/pkg/errors"
)

// Targets applies a single file mutation to both indexes, vector first.
// It is shared by the foreground Indexer and background recovery, so a
// replayed operation has exactly the effect of the original.
type Targets struct {
	Vector     index.VectorIndex
	Graph      index.GraphIndex
	Collection string
	UserID     string
}

// Upsert indexes content as the new version of file. status is recorded
// with the vector document.
func (t *Targets) Upsert(ctx context.Context, file, content, status string) error {
	var doc = index.Document{File: file, Content: content, Status: status}
	if _, err := t.Vector.Upsert(ctx, t.Collection, []index.Document{doc}, t.UserID); err != nil {
		return errors.WithMessage(err, "vector upsert")
	}
	if _, err := t.Graph.Update(ctx, []string{file}, map[string]string{file: content}, t.UserID); err != nil {
		return errors.WithMessage(err, "graph update")
	}
	return nil
}

// Delete removes file from both indexes.
func (t *Targets) Delete(ctx context.Context, file string) error {
	if _, err := t.Vector.Delete(ctx, t.Collection, []string{file}, t.UserID); err != nil {
		return errors.WithMessage(err, "vector delete")
	}
	if _, err := t.Graph.DeleteNodes(ctx, []string{file}, t.UserID); err != nil {
		return errors.WithMessage(err, "graph delete")
	}
	return nil
}
