package gamedb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *BadgerDB {
	t.Helper()
	db, err := NewBadgerDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBadgerGetPut(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	require.NoError(t, db.Put(ctx, "k1", []byte("v1")))
	got, err := db.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Overwrite is allowed for plain keys.
	require.NoError(t, db.Put(ctx, "k1", []byte("v2")))
	got, err = db.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestBadgerPaymentRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec := &PaymentRecord{
		GameID:    "g1",
		PlayerID:  "0xA1",
		TxHash:    "0xfeed",
		AmountWei: "1000000000000000000",
		Success:   true,
	}
	require.NoError(t, db.StorePaymentRecord(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero(), "CreatedAt should be stamped")

	// Same game+player again is a duplicate.
	err := db.StorePaymentRecord(ctx, &PaymentRecord{GameID: "g1", PlayerID: "0xa1", TxHash: "0xother"})
	if err != ErrDuplicateEntry {
		t.Fatalf("want ErrDuplicateEntry, got %v", err)
	}

	got, err := db.FetchPaymentRecord(ctx, "g1", "0xA1")
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", got.TxHash)
	assert.True(t, got.Success)

	if _, err := db.FetchPaymentRecord(ctx, "g1", "0xmissing"); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	if err := db.StorePaymentRecord(ctx, &PaymentRecord{GameID: "", PlayerID: ""}); err == nil {
		t.Fatal("incomplete record must be rejected")
	}
}

func TestBadgerFetchGamePayments(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.StorePaymentRecord(ctx, &PaymentRecord{GameID: "g1", PlayerID: "0xa1", TxHash: "0x01"}))
	require.NoError(t, db.StorePaymentRecord(ctx, &PaymentRecord{GameID: "g1", PlayerID: "0xb2", TxHash: "0x02"}))
	require.NoError(t, db.StorePaymentRecord(ctx, &PaymentRecord{GameID: "g2", PlayerID: "0xa1", TxHash: "0x03"}))

	recs, err := db.FetchGamePayments(ctx, "g1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = db.FetchGamePayments(ctx, "g3")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
