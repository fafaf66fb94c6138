package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt marks a durable copy that could not be decoded.
var ErrCorrupt = errors.New("feed: corrupt durable copy")

// FilePersister stores the feed as a JSON array, replaced atomically through a
// temp file in the same directory and a rename.
type FilePersister struct {
	Path string
}

// Load reads the JSON array at Path. A missing file is an empty feed.
func (p *FilePersister) Load(_ context.Context) ([]Entry, error) {
	b, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.Path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, p.Path, err)
	}
	return entries, nil
}

// Save writes entries to a temp file, syncs it and renames it over Path.
func (p *FilePersister) Save(_ context.Context, entries []Entry) (err error) {
	if entries == nil {
		entries = []Entry{}
	}
	dir := filepath.Dir(p.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create feed dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp feed file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode feed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync feed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close feed: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.Path); err != nil {
		return fmt.Errorf("replace feed: %w", err)
	}
	return nil
}
