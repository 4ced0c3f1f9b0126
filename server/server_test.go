package server

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/roschler/ethereum-band-battles-sub001/events"
	"github.com/roschler/ethereum-band-battles-sub001/server/gamedb"
	"github.com/roschler/ethereum-band-battles-sub001/txqueue"
	"github.com/roschler/ethereum-band-battles-sub001/txwatcher"
)

func newTestServer(t *testing.T, eth EthBackend) *Server {
	t.Helper()
	dir := t.TempDir()
	useStdout := false
	lb, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:        filepath.Join(dir, "logs", "test.log"),
		DebugLevel:     "warn",
		MaxLogFiles:    1,
		MaxBufferLines: 100,
		UseStdout:      &useStdout,
	})
	require.NoError(t, err)

	s, err := NewServer(ServerConfig{
		ServerDir:     dir,
		LogBackend:    lb,
		Eth:           eth,
		PayoutAccount: common.HexToAddress("0x00000000000000000000000000000000000000b1"),
		PollInterval:  time.Second,
		MinConfs:      1,
		WaitTimeout:   time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.db.Close() })
	return s
}

func recvResult(t *testing.T, ch <-chan txwatcher.Result) txwatcher.Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	default:
		t.Fatal("no result on subscription channel")
		return txwatcher.Result{}
	}
}

func TestWatchPaymentConfirms(t *testing.T) {
	eth := newFakeEth()
	s := newTestServer(t, eth)
	ctx := context.Background()

	g := s.CreateGame("chan-1")
	require.NoError(t, s.JoinGame(g.ID, "0xA1", "alice"))

	sub, unsub := s.Subscribe("chan-1")
	defer unsub()

	const txHash = "0x00000000000000000000000000000000000000000000000000000000000feed1"
	var delivered []txwatcher.Result
	require.NoError(t, s.RegisterCorrelation(txHash, func(res txwatcher.Result) error {
		delivered = append(delivered, res)
		return nil
	}))

	_, err := s.WatchPayment(g.ID, "0xa1", txHash, time.Minute)
	require.NoError(t, err)

	// Not mined yet: nothing happens.
	s.poller.PollOnce(ctx)
	assert.Equal(t, 1, s.poller.ActiveCount())
	assert.False(t, g.GetPlayer("0xa1").Paid)

	// Mined: next tick confirms, marks paid, persists, broadcasts.
	eth.setReceipt(common.HexToHash(txHash), 5, 5)
	s.poller.PollOnce(ctx)

	assert.Equal(t, 0, s.poller.ActiveCount())
	assert.True(t, g.GetPlayer("0xa1").Paid)
	assert.True(t, g.AllPaid())

	rec, err := s.db.FetchPaymentRecord(ctx, g.ID, "0xa1")
	require.NoError(t, err)
	assert.Equal(t, txHash, rec.TxHash)
	assert.True(t, rec.Success)

	res := recvResult(t, sub)
	assert.True(t, res.Success)
	assert.Equal(t, KindEntryFee, res.Kind)
	assert.Equal(t, g.ID, res.Context.GameID)

	require.Len(t, delivered, 1)
	assert.Equal(t, txHash, delivered[0].CorrelationID)
}

func TestWatchPaymentTimeoutBroadcastsFailure(t *testing.T) {
	eth := newFakeEth()
	s := newTestServer(t, eth)
	ctx := context.Background()

	g := s.CreateGame("chan-1")
	require.NoError(t, s.JoinGame(g.ID, "0xa1", "alice"))

	sub, unsub := s.Subscribe("chan-1")
	defer unsub()

	const txHash = "0x00000000000000000000000000000000000000000000000000000000000feed2"
	_, err := s.WatchPayment(g.ID, "0xa1", txHash, 2*time.Second)
	require.NoError(t, err)

	s.poller.PollOnce(ctx)
	s.poller.PollOnce(ctx)

	res := recvResult(t, sub)
	assert.False(t, res.Success)
	assert.Equal(t, txwatcher.ReasonTimeout, res.Reason)
	assert.False(t, g.GetPlayer("0xa1").Paid, "timed-out payment must not mark paid")
	if _, err := s.db.FetchPaymentRecord(ctx, g.ID, "0xa1"); err != gamedb.ErrNotFound {
		t.Fatalf("no record should be stored on timeout, got %v", err)
	}
}

func TestEnqueuePayoutSubmitsThenWatches(t *testing.T) {
	eth := newFakeEth()
	s := newTestServer(t, eth)
	ctx := context.Background()

	g := s.CreateGame("chan-1")
	require.NoError(t, s.JoinGame(g.ID, "0xa1", "alice"))

	sub, unsub := s.Subscribe("chan-1")
	defer unsub()

	tx := testTx()
	job, err := s.EnqueuePayout(ctx, g.ID, "0xa1", tx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, s.QueueLen())

	s.queue.DriveOnce(ctx)
	assert.Eventually(t, func() bool { return job.Status() == txqueue.StatusResolved },
		2*time.Second, 5*time.Millisecond)
	assert.Equal(t, tx.Hash().Hex(), job.Receipt().TxHash)
	require.Len(t, eth.sent, 1)

	// The accepted submission seeded a waiter for the mined confirmation.
	assert.Equal(t, 1, s.poller.ActiveCount())

	eth.setReceipt(tx.Hash(), 7, 7)
	s.poller.PollOnce(ctx)
	assert.Equal(t, 0, s.poller.ActiveCount())

	res := recvResult(t, sub)
	assert.True(t, res.Success)
	assert.Equal(t, KindPayout, res.Kind)
	assert.Equal(t, tx.Hash().Hex(), res.CorrelationID)

	s.queue.DriveOnce(ctx)
	assert.Equal(t, 0, s.QueueLen())
}

func TestEnqueuePayoutInsufficientFunds(t *testing.T) {
	eth := newFakeEth()
	eth.balance = big.NewInt(1000) // nowhere near tx cost
	s := newTestServer(t, eth)
	ctx := context.Background()

	g := s.CreateGame("chan-1")
	require.NoError(t, s.JoinGame(g.ID, "0xa1", "alice"))

	_, err := s.EnqueuePayout(ctx, g.ID, "0xa1", testTx(), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient")
	assert.Equal(t, 0, s.QueueLen(), "failed preflight must not take a queue slot")
}

func TestEnqueuePayoutStaleNonce(t *testing.T) {
	eth := newFakeEth()
	eth.sent = append(eth.sent, testTx()) // pending nonce is now 1
	s := newTestServer(t, eth)
	ctx := context.Background()

	g := s.CreateGame("chan-1")
	require.NoError(t, s.JoinGame(g.ID, "0xa1", "alice"))

	_, err := s.EnqueuePayout(ctx, g.ID, "0xa1", testTx(), time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonce")
	assert.Equal(t, 0, s.QueueLen())
}

func TestDeliverCorrelationAtMostOnce(t *testing.T) {
	eth := newFakeEth()
	s := newTestServer(t, eth)

	calls := 0
	require.NoError(t, s.RegisterCorrelation("evt-1", func(txwatcher.Result) error {
		calls++
		return nil
	}))
	err := s.RegisterCorrelation("evt-1", func(txwatcher.Result) error { return nil })
	assert.Equal(t, events.ErrDuplicateCorrelation, err)

	payload := txwatcher.Result{Success: true, CorrelationID: "evt-1"}
	require.NoError(t, s.DeliverCorrelation("evt-1", payload))
	require.NoError(t, s.DeliverCorrelation("evt-1", payload))
	assert.Equal(t, 1, calls)
}
