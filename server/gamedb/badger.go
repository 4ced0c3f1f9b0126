package gamedb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const paymentPrefix = "payment/"

// BadgerDB implements GameDB on a local badger store.
type BadgerDB struct {
	db *badger.DB
}

var _ GameDB = (*BadgerDB)(nil)

func NewBadgerDB(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &BadgerDB{db: db}, nil
}

func (b *BadgerDB) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerDB) Put(_ context.Context, key string, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func paymentKey(gameID, playerID string) []byte {
	return []byte(paymentPrefix + gameID + "/" + strings.ToLower(playerID))
}

func (b *BadgerDB) StorePaymentRecord(_ context.Context, rec *PaymentRecord) error {
	if rec == nil || rec.GameID == "" || rec.PlayerID == "" {
		return fmt.Errorf("incomplete payment record")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := paymentKey(rec.GameID, rec.PlayerID)
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrDuplicateEntry
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, val)
	})
}

func (b *BadgerDB) FetchPaymentRecord(ctx context.Context, gameID, playerID string) (*PaymentRecord, error) {
	raw, err := b.Get(ctx, string(paymentKey(gameID, playerID)))
	if err != nil {
		return nil, err
	}
	var rec PaymentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *BadgerDB) FetchGamePayments(_ context.Context, gameID string) ([]*PaymentRecord, error) {
	prefix := []byte(paymentPrefix + gameID + "/")
	var out []*PaymentRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var rec PaymentRecord
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			})
			if err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerDB) Close() error {
	return b.db.Close()
}
