package bandgame

import (
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

// GameManager owns all live games, keyed by game id.
type GameManager struct {
	sync.RWMutex

	Log   slog.Logger
	Games map[string]*Game
}

func NewGameManager(log slog.Logger) *GameManager {
	return &GameManager{
		Log:   log,
		Games: make(map[string]*Game),
	}
}

func (gm *GameManager) CreateGame(channelID string) *Game {
	gm.Lock()
	defer gm.Unlock()

	g := &Game{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		State:     StateCreated,
		Players:   make(map[string]*Player),
		CreatedAt: time.Now(),
	}
	gm.Games[g.ID] = g
	gm.Log.Infof("game %s created on channel %s", g.ID, channelID)
	return g
}

func (gm *GameManager) GetGame(gameID string) *Game {
	gm.RLock()
	defer gm.RUnlock()
	return gm.Games[gameID]
}

func (gm *GameManager) RemoveGame(gameID string) {
	gm.Lock()
	defer gm.Unlock()
	delete(gm.Games, gameID)
}

// EventContextFor builds the broadcast context for a player event in a game.
func (gm *GameManager) EventContextFor(gameID, playerID string) (EventContext, error) {
	g := gm.GetGame(gameID)
	if g == nil {
		return EventContext{}, fmt.Errorf("unknown game %s", gameID)
	}
	g.RLock()
	defer g.RUnlock()
	return EventContext{
		GameID:    g.ID,
		ChannelID: g.ChannelID,
		PlayerID:  playerID,
		Round:     g.Round,
	}, nil
}
