package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
)

// DefaultPath is where the JSON ledger lives when nothing is configured.
const DefaultPath = "/tmp/therapy-ops-agent/state/acorn_idempotency_store.json"

// FileLedger stores keys as a pretty-printed, sorted JSON array of strings.
//
// Reads never fail: a missing file is an empty ledger, and an unreadable or
// malformed file is also treated as empty (with a warning). That favors
// availability over historical dedupe: a corrupted file can lead to repeat
// sends for keys it used to hold.
type FileLedger struct {
	path string
	log  zerolog.Logger
}

// FileOption customizes a FileLedger during construction.
type FileOption func(*FileLedger)

// WithLogger sets the logger used for corruption warnings.
func WithLogger(l zerolog.Logger) FileOption {
	return func(f *FileLedger) {
		f.log = l
	}
}

// NewFileLedger returns a ledger backed by path (DefaultPath when empty).
func NewFileLedger(path string, opts ...FileOption) *FileLedger {
	if path == "" {
		path = DefaultPath
	}
	f := &FileLedger{path: path, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Path returns the file backing this ledger.
func (f *FileLedger) Path() string { return f.path }

// HasBeenSent implements Ledger. The error is always nil.
func (f *FileLedger) HasBeenSent(_ context.Context, key string) (bool, error) {
	_, ok := f.load()[key]
	return ok, nil
}

// MarkSent implements Ledger with a load-modify-store of the whole file.
func (f *FileLedger) MarkSent(_ context.Context, key string) error {
	keys := f.load()
	keys[key] = struct{}{}
	return f.save(keys)
}

// Keys returns the stored keys in ascending order.
func (f *FileLedger) Keys() []string {
	return sortedKeys(f.load())
}

func (f *FileLedger) load() map[string]struct{} {
	out := make(map[string]struct{})

	raw, err := os.ReadFile(f.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			f.log.Warn().Err(err).Str("path", f.path).Msg("ledger unreadable; treating as empty")
		}
		return out
	}

	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		f.log.Warn().Err(err).Str("path", f.path).Msg("ledger malformed; treating as empty")
		return out
	}
	for _, it := range items {
		if s, ok := it.(string); ok {
			out[s] = struct{}{}
		}
	}
	return out
}

// save writes through a temp file in the same directory and renames it over
// the ledger so a crash mid-write leaves the previous contents intact.
func (f *FileLedger) save(keys map[string]struct{}) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	body, err := json.MarshalIndent(sortedKeys(keys), "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
