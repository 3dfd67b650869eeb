package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/trevorstenson/crowd-agent/internal/errors"
)

// FileName is the well-known checkpoint path relative to the repo root.
const FileName = ".agent-checkpoint.json"

// Store reads and writes the checkpoint at the repo root. Save is an
// atomic overwrite; it does not commit. Durability belongs to the git
// commit primitive so that a crash mid-phase never leaves a torn record
// on the branch.
type Store struct {
	root string
}

// NewStore creates a store rooted at the given repository checkout.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Path returns the absolute checkpoint path.
func (s *Store) Path() string {
	return filepath.Join(s.root, FileName)
}

// Load reads the checkpoint. A missing file yields a CHECKPOINT-001
// coded error; continuation paths treat that as fatal, fresh-run paths
// check errors.IsNotFound and proceed.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrCodeCheckpointNotFound, "no checkpoint at %s", FileName)
		}
		return nil, errors.Wrap(errors.ErrCodeCheckpointUnmarshal, "read checkpoint", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCheckpointUnmarshal, "parse checkpoint", err)
	}
	return &cp, nil
}

// Save stamps the updated-at timestamp and atomically overwrites the
// checkpoint file. The record is written indented with a trailing
// newline for diff stability on the branch.
func (s *Store) Save(cp *Checkpoint) error {
	if cp == nil {
		return errors.New(errors.ErrCodeCheckpointWrite, "checkpoint is nil")
	}
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCheckpointWrite, "marshal checkpoint", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.root, FileName+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.ErrCodeCheckpointWrite, "create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeCheckpointWrite, "write checkpoint", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeCheckpointWrite, "close temp file", err)
	}
	if err := os.Rename(tmpName, s.Path()); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(errors.ErrCodeCheckpointWrite, "replace checkpoint", err)
	}
	return nil
}

// Remove deletes the checkpoint file. Removing an absent file is not an
// error; finalize may run after an earlier partial cleanup.
func (s *Store) Remove() error {
	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeCheckpointWrite, "remove checkpoint", err)
	}
	return nil
}
