// Package ledger implements the idempotency ledger: a durable set of keys that
// have already been acted upon. A key is a per-day-per-client lock, not a
// content hash; once present it is permanent for that environment.
//
// The ledger does no cross-process locking. Two runs against the same store
// can lose an update on simultaneous MarkSent calls; the scheduler is expected
// to run at most one job at a time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// Namespace prefixes every key written by this service.
	Namespace = "acorn"
	// FormVersionTag is the fixed suffix of per-client keys.
	FormVersionTag = "v14"
)

// Backend names accepted by Open.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name.
var ErrUnknownBackend = errors.New("ledger: unknown backend")

// Ledger is the store consulted before every send.
type Ledger interface {
	// HasBeenSent reports whether key is already recorded.
	HasBeenSent(ctx context.Context, key string) (bool, error)
	// MarkSent records key. Marking an existing key is a no-op.
	MarkSent(ctx context.Context, key string) error
}

// BuildKey returns the per-client idempotency key for date (YYYY-MM-DD).
// The same (date, clientID) always yields the same key.
func BuildKey(date, clientID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", Namespace, date, clientID, FormVersionTag)
}

// RunKey returns the coarse run-level key logged on every dispatch record.
// It is a correlation token only and is never written to the ledger.
func RunKey(date string) string {
	return Namespace + ":" + date
}

// Options selects and configures a ledger backend.
type Options struct {
	Backend string // json | sqlite | postgres
	Path    string // JSON file path
	DSN     string // sqlite file or postgres DSN
}

// Open builds the ledger described by opts. The returned close func releases
// any database handle and is safe to call for the JSON backend.
func Open(opts Options, fileOpts ...FileOption) (Ledger, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendJSON:
		return NewFileLedger(opts.Path, fileOpts...), func() error { return nil }, nil
	case BackendSQLite:
		db, err := OpenSQLite(opts.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger: open sqlite: %w", err)
		}
		return newGormFromDB(db)
	case BackendPostgres:
		db, err := OpenPostgres(opts.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("ledger: open postgres: %w", err)
		}
		return newGormFromDB(db)
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
