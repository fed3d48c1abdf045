package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	journal, err := OpenSQLite(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestRecordAndLoadTransaction(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()
	rec := &TxRecord{
		Hash:   "0xabc",
		Sender: "0x01",
		Nonce:  7,
		Method: "depositSettlement",
		Status: StatusApplied,
		Events: []EventRecord{
			{Type: "token.transfer", Attributes: map[string]string{"amount": "5"}},
			{Type: "bank.deposit", Attributes: map[string]string{"amount": "5"}},
		},
	}
	require.NoError(t, journal.Record(ctx, rec))
	require.NotEqual(t, uuid.Nil, rec.ID)

	loaded, err := journal.Transaction(ctx, "0xABC")
	require.NoError(t, err)
	require.Equal(t, uint64(7), loaded.Nonce)
	require.Len(t, loaded.Events, 2)
	require.Equal(t, "token.transfer", loaded.Events[0].Type)
	require.Equal(t, "bank.deposit", loaded.Events[1].Type)
	require.Equal(t, 1, loaded.Events[1].Sequence)
	require.Equal(t, "5", loaded.Events[1].Attributes["amount"])
}

func TestTransactionNotFound(t *testing.T) {
	journal := openTestJournal(t)
	_, err := journal.Transaction(context.Background(), "0xmissing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListEventsFilters(t *testing.T) {
	journal := openTestJournal(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0).UTC()
	journal.now = func() time.Time { return base }
	require.NoError(t, journal.Record(ctx, &TxRecord{Hash: "0x1", Status: StatusApplied, Events: []EventRecord{
		{Type: "bank.deposit", Attributes: map[string]string{"amount": "1"}},
	}}))
	journal.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, journal.Record(ctx, &TxRecord{Hash: "0x2", Status: StatusApplied, Events: []EventRecord{
		{Type: "bank.withdrawal", Attributes: map[string]string{"amount": "1"}},
		{Type: "bank.deposit", Attributes: map[string]string{"amount": "2"}},
	}}))
	require.NoError(t, journal.Record(ctx, &TxRecord{Hash: "0x3", Status: StatusRejected, Code: "CapExceeded"}))

	all, err := journal.ListEvents(ctx, EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "bank.deposit", all[0].Type)
	require.Equal(t, "2", all[0].Attributes["amount"])

	deposits, err := journal.ListEvents(ctx, EventFilter{Type: "bank.deposit"})
	require.NoError(t, err)
	require.Len(t, deposits, 2)

	recent, err := journal.ListEvents(ctx, EventFilter{Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	require.Len(t, recent, 2)

	limited, err := journal.ListEvents(ctx, EventFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestOpenSQLiteFileCreatesDirectory(t *testing.T) {
	_, err := OpenSQLiteFile("  ")
	require.ErrorIs(t, err, ErrPathRequired)

	path := filepath.Join(t.TempDir(), "nested", "journal.sqlite")
	journal, err := OpenSQLiteFile(path)
	require.NoError(t, err)
	require.NoError(t, journal.Record(context.Background(), &TxRecord{Hash: "0x1", Status: StatusApplied}))
	require.NoError(t, journal.Close())
	require.FileExists(t, path)
}

func TestOpenRequiresLocation(t *testing.T) {
	_, err := OpenSQLite("")
	require.ErrorIs(t, err, ErrPathRequired)
	_, err = OpenPostgres(" ")
	require.ErrorIs(t, err, ErrPathRequired)
}
