package bandgame

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// GameState tracks where a game is in its lifecycle. Transitions only move
// forward: created -> waiting_players -> playing -> round_over -> playing
// (next round) -> over.
type GameState string

const (
	StateCreated        GameState = "created"
	StateWaitingPlayers GameState = "waiting_players"
	StatePlaying        GameState = "playing"
	StateRoundOver      GameState = "round_over"
	StateOver           GameState = "over"
)

// EventContext identifies which game/channel a ledger event belongs to. It
// travels with every waiter and is echoed back in the broadcast result so
// receivers can route it without any shared references.
type EventContext struct {
	GameID    string
	ChannelID string
	PlayerID  string
	Round     int
}

func (ec EventContext) String() string {
	return fmt.Sprintf("game=%s channel=%s player=%s round=%d", ec.GameID, ec.ChannelID, ec.PlayerID, ec.Round)
}

type Game struct {
	sync.RWMutex

	ID        string
	ChannelID string
	State     GameState
	Players   map[string]*Player
	Round     int
	CreatedAt time.Time
}

func (g *Game) AddPlayer(player *Player) error {
	g.Lock()
	defer g.Unlock()
	if player == nil || player.ID == "" {
		return fmt.Errorf("nil or unidentified player")
	}
	if g.State != StateCreated && g.State != StateWaitingPlayers {
		return fmt.Errorf("game %s not accepting players (state=%s)", g.ID, g.State)
	}
	id := strings.ToLower(player.ID)
	// don't add repeated players
	if _, ok := g.Players[id]; ok {
		return nil
	}
	player.ID = id
	g.Players[id] = player
	g.State = StateWaitingPlayers
	return nil
}

func (g *Game) GetPlayer(playerID string) *Player {
	g.RLock()
	defer g.RUnlock()
	return g.Players[strings.ToLower(playerID)]
}

// MarkPaid records that a player's entry fee confirmed on the ledger.
func (g *Game) MarkPaid(playerID string) error {
	g.Lock()
	defer g.Unlock()
	p, ok := g.Players[strings.ToLower(playerID)]
	if !ok {
		return fmt.Errorf("player %s not in game %s", playerID, g.ID)
	}
	p.Paid = true
	return nil
}

// AllPaid reports whether every joined player has a confirmed entry fee.
// False for an empty game.
func (g *Game) AllPaid() bool {
	g.RLock()
	defer g.RUnlock()
	if len(g.Players) == 0 {
		return false
	}
	for _, p := range g.Players {
		if !p.Paid {
			return false
		}
	}
	return true
}

func (g *Game) CurrentState() GameState {
	g.RLock()
	defer g.RUnlock()
	return g.State
}

// SetState moves the game forward. Backward transitions are rejected except
// round_over -> playing, which starts the next round.
func (g *Game) SetState(next GameState) error {
	g.Lock()
	defer g.Unlock()
	if g.State == StateOver {
		return fmt.Errorf("game %s is over", g.ID)
	}
	if g.State == StateRoundOver && next == StatePlaying {
		g.Round++
		g.State = next
		return nil
	}
	if stateRank(next) < stateRank(g.State) {
		return fmt.Errorf("game %s cannot go from %s to %s", g.ID, g.State, next)
	}
	g.State = next
	return nil
}

func stateRank(s GameState) int {
	switch s {
	case StateCreated:
		return 0
	case StateWaitingPlayers:
		return 1
	case StatePlaying:
		return 2
	case StateRoundOver:
		return 3
	case StateOver:
		return 4
	}
	return -1
}
