package domain

import "time"

// LedgerEntry is one idempotency key that has been acted upon. Keys already
// embed the target date, so entries never expire.
type LedgerEntry struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_ledger_key"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// TableName implements the GORM tabler interface.
func (LedgerEntry) TableName() string { return "idempotency_ledger" }
