package wal

import (
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ContentDir is the directory, next to the journal, holding content blobs.
const ContentDir = "wal_content"

// ContentStore keeps the full text of journaled operations, one file per
// record id. Saves of distinct ids touch distinct files and need no locking.
type ContentStore struct {
	fs  afero.Fs
	dir string
}

// NewContentStore returns a ContentStore writing beneath dir, creating it
// if needed.
func NewContentStore(fs afero.Fs, dir string) (*ContentStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WithMessage(err, "creating content directory")
	}
	return &ContentStore{fs: fs, dir: dir}, nil
}

// Save persists content under id and returns its reference relative to the
// journal directory.
func (s *ContentStore) Save(id, content string) (string, error) {
	if err := afero.WriteFile(s.fs, s.path(id), []byte(content), 0o644); err != nil {
		return "", errors.WithMessagef(err, "writing content for %s", id)
	}
	return path.Join(ContentDir, id+".txt"), nil
}

// Load returns the content saved under id. ok is false when the blob is
// missing or cannot be read.
func (s *ContentStore) Load(id string) (content string, ok bool) {
	data, err := afero.ReadFile(s.fs, s.path(id))
	if os.IsNotExist(err) {
		log.WithField("id", id).Warn("wal content not found")
		return "", false
	} else if err != nil {
		log.WithFields(log.Fields{"id": id, "err": err}).Error("failed to read wal content")
		return "", false
	}
	return string(data), true
}

// Delete removes the blob for id. Deleting a missing blob is not an error.
func (s *ContentStore) Delete(id string) error {
	if err := s.fs.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return errors.WithMessagef(err, "removing content for %s", id)
	}
	return nil
}

// Size returns the number of blobs and their total size in bytes.
func (s *ContentStore) Size() (files int, bytes int64, err error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return 0, 0, errors.WithMessage(err, "listing content directory")
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		files++
		bytes += e.Size()
	}
	return files, bytes, nil
}

func (s *ContentStore) path(id string) string {
	return filepath.Join(s.dir, id+".txt")
}
