package server

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/decred/slog"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vctt94/bisonbotkit/logging"
	"golang.org/x/sync/errgroup"

	"github.com/roschler/ethereum-band-battles-sub001/bandgame"
	"github.com/roschler/ethereum-band-battles-sub001/events"
	"github.com/roschler/ethereum-band-battles-sub001/server/gamedb"
	"github.com/roschler/ethereum-band-battles-sub001/txqueue"
	"github.com/roschler/ethereum-band-battles-sub001/txwatcher"
)

const (
	defaultMinConfs    = 1
	defaultWaitTimeout = 2 * time.Minute

	// Waiter kinds used by the game flow.
	KindEntryFee = "entry-fee"
	KindPayout   = "payout"
)

type ServerConfig struct {
	ServerDir  string
	DebugLevel string
	LogBackend *logging.LogBackend

	// Eth is the ledger node the predicates and submits run against.
	Eth EthBackend

	// PayoutAccount is the address payouts are signed with. When set,
	// payouts are preflighted against its pending nonce and balance
	// before they enter the queue.
	PayoutAccount common.Address

	// DB overrides the badger store opened under ServerDir when set
	// (tests mostly).
	DB gamedb.GameDB

	PollInterval  time.Duration
	QueueInterval time.Duration
	MinConfs      uint64
	WaitTimeout   time.Duration
}

// Server owns the coordination engine: one waiter poller, one submission
// queue, one correlation registry and the broadcast hub, plus the game
// state and store their continuations act on.
type Server struct {
	log slog.Logger
	eth EthBackend
	db  gamedb.GameDB

	gameManager *bandgame.GameManager
	poller      *txwatcher.Poller
	queue       *txqueue.Queue
	registry    *events.Registry
	hub         *resultHub

	payoutAccount common.Address
	minConfs      uint64
	waitTimeout   time.Duration
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.LogBackend == nil {
		return nil, fmt.Errorf("log backend is nil")
	}
	if cfg.Eth == nil {
		return nil, fmt.Errorf("eth backend is nil")
	}

	db := cfg.DB
	if db == nil {
		var err error
		db, err = gamedb.NewBadgerDB(filepath.Join(cfg.ServerDir, "gamedb"))
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
	}

	minConfs := cfg.MinConfs
	if minConfs == 0 {
		minConfs = defaultMinConfs
	}
	waitTimeout := cfg.WaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}

	s := &Server{
		log:         cfg.LogBackend.Logger("SRVR"),
		eth:         cfg.Eth,
		db:          db,
		gameManager: bandgame.NewGameManager(cfg.LogBackend.Logger("GAME")),
		registry:    events.NewRegistry(cfg.LogBackend.Logger("EVNT")),
		hub:         newResultHub(cfg.LogBackend.Logger("SRVR")),

		payoutAccount: cfg.PayoutAccount,
		minConfs:      minConfs,
		waitTimeout:   waitTimeout,
	}
	s.poller = txwatcher.NewPoller(cfg.LogBackend.Logger("WTCH"), s, cfg.PollInterval)
	s.queue = txqueue.New(cfg.LogBackend.Logger("TXQ"), cfg.QueueInterval)
	return s, nil
}

// Run drives the poller and the submission queue until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.poller.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.queue.Run(gctx)
		return nil
	})
	err := g.Wait()
	if cerr := s.db.Close(); cerr != nil {
		s.log.Warnf("closing db: %v", cerr)
	}
	return err
}

// Publish implements txwatcher.Broadcaster. Every result goes to the hub
// subscribers and, when it carries a correlation id, to the local
// correlation registry, the same way a remote receiver of the broadcast
// would feed its own registry.
func (s *Server) Publish(channelID string, res txwatcher.Result) (bool, error) {
	delivered := s.hub.publish(channelID, res)
	if res.CorrelationID != "" {
		if err := s.registry.Deliver(res.CorrelationID, res); err != nil {
			s.log.Warnf("deliver correlation %s: %v", res.CorrelationID, err)
		}
	}
	return delivered, nil
}

// --- Coordination API ---

// StartWaiting registers a confirmation request with the poller.
func (s *Server) StartWaiting(confirm txwatcher.ConfirmFunc, onSuccess txwatcher.OnSuccessFunc,
	timeout time.Duration, correlationID string, evCtx bandgame.EventContext,
	kind string) (txwatcher.Handle, error) {
	if timeout <= 0 {
		timeout = s.waitTimeout
	}
	return s.poller.StartWaiting(confirm, onSuccess, timeout, correlationID, evCtx, kind)
}

// Enqueue appends a ledger write to the submission queue.
func (s *Server) Enqueue(submit txqueue.SubmitFunc, desc string) (*txqueue.Job, error) {
	return s.queue.Enqueue(submit, desc)
}

// RegisterCorrelation arms a one-shot continuation for a correlation id.
func (s *Server) RegisterCorrelation(correlationID string, cont events.Continuation) error {
	return s.registry.Register(correlationID, cont)
}

// DeliverCorrelation hands a received broadcast result to the registry.
func (s *Server) DeliverCorrelation(correlationID string, res txwatcher.Result) error {
	return s.registry.Deliver(correlationID, res)
}

// Cancel best-effort cancels a waiter before its next poll.
func (s *Server) Cancel(h txwatcher.Handle) {
	s.poller.Cancel(h)
}

// Subscribe attaches a listener for broadcast results on channelID (empty
// for all channels).
func (s *Server) Subscribe(channelID string) (<-chan txwatcher.Result, func()) {
	return s.hub.Subscribe(channelID)
}

// --- Game flow ---

func (s *Server) CreateGame(channelID string) *bandgame.Game {
	return s.gameManager.CreateGame(channelID)
}

func (s *Server) JoinGame(gameID, playerID, name string) error {
	g := s.gameManager.GetGame(gameID)
	if g == nil {
		return fmt.Errorf("unknown game %s", gameID)
	}
	return g.AddPlayer(&bandgame.Player{ID: playerID, Name: name})
}

// WatchPayment waits for a player's entry-fee transaction (submitted from
// the player's own wallet, not by us) to confirm. On confirmation the
// player is marked paid and a payment record is persisted before the result
// is broadcast; once every player has paid the game starts.
func (s *Server) WatchPayment(gameID, playerID, txHash string, timeout time.Duration) (txwatcher.Handle, error) {
	evCtx, err := s.gameManager.EventContextFor(gameID, playerID)
	if err != nil {
		return txwatcher.Handle{}, err
	}
	confirm := ReceiptConfirmed(s.eth, common.HexToHash(txHash), s.minConfs)

	onSuccess := func(ctx context.Context) error {
		g := s.gameManager.GetGame(gameID)
		if g == nil {
			return fmt.Errorf("game %s gone before payment confirmed", gameID)
		}
		if err := g.MarkPaid(playerID); err != nil {
			return err
		}
		rec := &gamedb.PaymentRecord{
			GameID:   gameID,
			PlayerID: playerID,
			TxHash:   txHash,
			Success:  true,
		}
		if err := s.db.StorePaymentRecord(ctx, rec); err != nil && err != gamedb.ErrDuplicateEntry {
			return err
		}
		if g.AllPaid() {
			if err := g.SetState(bandgame.StatePlaying); err != nil {
				s.log.Warnf("game %s: %v", gameID, err)
			} else {
				s.log.Infof("game %s fully funded, starting", gameID)
			}
		}
		return nil
	}

	return s.StartWaiting(confirm, onSuccess, timeout, txHash, evCtx, KindEntryFee)
}

// EnqueuePayout queues a signed payout transaction for the winner. The
// submission is serialized through the queue (nonce order); once the node
// accepts it a waiter is started so the eventual confirmation is broadcast
// under the tx hash as correlation id.
func (s *Server) EnqueuePayout(ctx context.Context, gameID, playerID string, tx *ethtypes.Transaction, timeout time.Duration) (*txqueue.Job, error) {
	evCtx, err := s.gameManager.EventContextFor(gameID, playerID)
	if err != nil {
		return nil, err
	}
	if err := s.preflightPayout(ctx, tx); err != nil {
		return nil, err
	}
	send := SendSignedTx(s.eth, tx)

	submit := func(ctx context.Context) (txqueue.Receipt, error) {
		rcpt, err := send(ctx)
		if err != nil {
			return rcpt, err
		}
		confirm := ReceiptConfirmed(s.eth, tx.Hash(), s.minConfs)
		if _, werr := s.StartWaiting(confirm, nil, timeout, rcpt.TxHash, evCtx, KindPayout); werr != nil {
			s.log.Errorf("payout %s accepted but could not start waiter: %v", rcpt.TxHash, werr)
		}
		return rcpt, nil
	}

	return s.Enqueue(submit, fmt.Sprintf("payout game=%s player=%s", gameID, playerID))
}

// preflightPayout rejects a payout that could never be mined before it
// takes up a queue slot: a nonce the payout account has already used, or a
// cost its balance cannot cover. Skipped when no payout account is
// configured.
func (s *Server) preflightPayout(ctx context.Context, tx *ethtypes.Transaction) error {
	if s.payoutAccount == (common.Address{}) {
		return nil
	}
	nonce, err := s.eth.PendingNonceAt(ctx, s.payoutAccount)
	if err != nil {
		return fmt.Errorf("pending nonce for %s: %w", s.payoutAccount.Hex(), err)
	}
	if tx.Nonce() < nonce {
		return fmt.Errorf("payout nonce %d already used, pending nonce is %d", tx.Nonce(), nonce)
	}
	bal, err := s.eth.BalanceAt(ctx, s.payoutAccount, nil)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", s.payoutAccount.Hex(), err)
	}
	if cost := tx.Cost(); bal.Cmp(cost) < 0 {
		return fmt.Errorf("insufficient payout funds: balance %s, tx cost %s", bal, cost)
	}
	return nil
}

// GameManager exposes the game state, read-mostly for callers.
func (s *Server) GameManager() *bandgame.GameManager { return s.gameManager }

// QueueLen is the submission backlog depth.
func (s *Server) QueueLen() int { return s.queue.Len() }
