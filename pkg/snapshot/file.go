// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/jllopis/mathqa/pkg/errors"
)

// FileStore keeps the snapshot as one JSON document on local disk.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Name implements Store.
func (f *FileStore) Name() string {
	return "file:" + f.path
}

// Save writes the snapshot to a temporary file in the target directory and
// renames it over the target, so readers see either the old or the new
// document.
func (f *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.New(errors.CodeContextLost, "snapshot save canceled", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.New(errors.CodeInternal, "failed to create snapshot directory", err).
			WithContext("path", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to create temporary snapshot", err).
			WithContext("path", dir)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	if err := enc.Encode(snap); err != nil {
		return errors.New(errors.CodeInternal, "failed to encode snapshot", err)
	}
	if err := tmp.Sync(); err != nil {
		return errors.New(errors.CodeInternal, "failed to sync snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.New(errors.CodeInternal, "failed to close snapshot", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.New(errors.CodeInternal, "failed to publish snapshot", err).
			WithContext("path", f.path)
	}
	committed = true
	return nil
}

// Load implements Store.
func (f *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(errors.CodeContextLost, "snapshot load canceled", err)
	}
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, errors.New(errors.CodeIndexNotFound, "no snapshot on disk", err).
			WithContext("path", f.path)
	}
	if err != nil {
		return nil, errors.New(errors.CodeCorruptIndex, "failed to read snapshot", err).
			WithContext("path", f.path)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.New(errors.CodeCorruptIndex, "failed to decode snapshot", err).
			WithContext("path", f.path)
	}
	if err := snap.Validate(); err != nil {
		return nil, errors.As(err).WithContext("path", f.path)
	}
	return &snap, nil
}
