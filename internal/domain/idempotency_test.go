package domain

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

func TestLedgerEntry_TableName(t *testing.T) {
	if got := (LedgerEntry{}).TableName(); got != "idempotency_ledger" {
		t.Fatalf("TableName() = %q; want %q", got, "idempotency_ledger")
	}
}

func TestLedgerEntry_Migration_UniqueKey(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&LedgerEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasTable(&LedgerEntry{}) {
		t.Fatalf("expected table %q to exist", LedgerEntry{}.TableName())
	}
	if !m.HasIndex(&LedgerEntry{}, "ux_ledger_key") {
		t.Fatalf("expected unique index ux_ledger_key to exist")
	}

	now := time.Now().UTC()
	first := &LedgerEntry{ID: "e1", Key: "acorn:2026-01-10:janeexample:v14", CreatedAt: now}
	if err := db.Create(first).Error; err != nil {
		t.Fatalf("insert: %v", err)
	}

	var got LedgerEntry
	if err := db.First(&got, "id = ?", "e1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Key != first.Key {
		t.Fatalf("unexpected row: %+v", got)
	}

	dup := &LedgerEntry{ID: "e2", Key: first.Key, CreatedAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on key")
	}
}

func TestSendResult_HasOnly(t *testing.T) {
	cases := []struct {
		name string
		in   SendResult
		want bool
	}{
		{"no issues", SendResult{Sent: true}, false},
		{"only duplicate", SendResult{Issues: []TriageIssue{{Code: IssueDuplicateSend}}}, true},
		{"mixed", SendResult{Issues: []TriageIssue{{Code: IssueInvalidPhone}, {Code: IssueDuplicateSend}}}, false},
	}
	for _, tc := range cases {
		if got := tc.in.HasOnly(IssueDuplicateSend); got != tc.want {
			t.Errorf("%s: HasOnly = %v; want %v", tc.name, got, tc.want)
		}
	}
}
