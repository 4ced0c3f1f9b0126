package gamedb

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrDuplicateEntry = errors.New("payment record already stored")
)

// PaymentRecord is the durable trace of a ledger payment outcome. Written by
// confirmation continuations so that a result whose broadcast was lost can
// still be reconciled later.
type PaymentRecord struct {
	GameID    string    `json:"game_id"`
	PlayerID  string    `json:"player_id"`
	TxHash    string    `json:"tx_hash"`
	AmountWei string    `json:"amount_wei"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// GameDB is the persistent key/value store consumed by continuations. The
// coordination core itself never touches it.
type GameDB interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error

	StorePaymentRecord(ctx context.Context, rec *PaymentRecord) error
	FetchPaymentRecord(ctx context.Context, gameID, playerID string) (*PaymentRecord, error)
	FetchGamePayments(ctx context.Context, gameID string) ([]*PaymentRecord, error)

	Close() error
}
