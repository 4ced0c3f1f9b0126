package server

import (
	"context"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/roschler/ethereum-band-battles-sub001/txqueue"
	"github.com/roschler/ethereum-band-battles-sub001/txwatcher"
)

// EthBackend is the narrow slice of an Ethereum node the server consumes.
// *ethclient.Client satisfies it; tests use fakes.
type EthBackend interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// ReceiptConfirmed builds a confirm predicate that reports true once the
// transaction is mined with at least minConfs confirmations. A missing
// receipt is "not yet"; any other node error is transient and retried by
// the poller. Inclusion is what is confirmed here; a reverted transaction
// still confirms, its status is the caller's business.
func ReceiptConfirmed(b EthBackend, txHash common.Hash, minConfs uint64) txwatcher.ConfirmFunc {
	return func(ctx context.Context) (bool, error) {
		rcpt, err := b.TransactionReceipt(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return false, nil
		}
		if err != nil {
			return false, errors.Wrapf(err, "receipt lookup for %s", txHash.Hex())
		}
		if rcpt == nil || rcpt.BlockNumber == nil {
			return false, nil
		}
		if minConfs <= 1 {
			return true, nil
		}
		tip, err := b.BlockNumber(ctx)
		if err != nil {
			return false, errors.Wrap(err, "block number")
		}
		mined := rcpt.BlockNumber.Uint64()
		if tip < mined {
			return false, nil
		}
		return tip-mined+1 >= minConfs, nil
	}
}

// SendSignedTx builds a submit closure that broadcasts an already-signed
// transaction. Signing happens before enqueueing; the queue only controls
// when the write reaches the node, which is what keeps nonces ordered.
func SendSignedTx(b EthBackend, tx *ethtypes.Transaction) txqueue.SubmitFunc {
	return func(ctx context.Context) (txqueue.Receipt, error) {
		if err := b.SendTransaction(ctx, tx); err != nil {
			return txqueue.Receipt{}, errors.Wrapf(err, "send tx %s", tx.Hash().Hex())
		}
		return txqueue.Receipt{TxHash: tx.Hash().Hex()}, nil
	}
}
