// Package room owns the set of active rooms: one identity, one
// connection, one in-progress game and its wager per room. The registry
// mediates all action processing and enforces one-room-per-identity.
package room

import (
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/lox/chunkrun/internal/engine"
	"github.com/lox/chunkrun/internal/identity"
)

// Conn is the transport handle bound to a room's occupant. The server
// layer implements it over a websocket connection.
type Conn interface {
	Send(kind string, payload any) error
}

// RewardInfo is a point-in-time projection of pool economics computed
// at room creation. It is never re-derived for an existing room.
type RewardInfo struct {
	PoolTotal  decimal.Decimal `json:"poolTotal"`
	TotalGames uint64          `json:"totalGames"`
	WinRate    float64         `json:"winRate"`
	CapturedAt time.Time       `json:"capturedAt"`
}

// Room binds one occupant's connection to one game and its wager.
//
// Lifecycle: created empty, occupied by exactly one identity, game
// started, game over, closed. The ready and started flags only ever go
// false to true. The per-room mutex serializes every state transition,
// so concurrent actions against the same room never interleave partial
// writes.
type Room struct {
	id         string
	deposit    decimal.Decimal
	difficulty engine.Difficulty
	createdAt  time.Time
	rewardInfo RewardInfo

	mu         sync.Mutex
	occupant   identity.Address
	conn       Conn
	state      *engine.State
	ready      bool
	started    bool
	closeTimer *quartz.Timer
}

// ID returns the room's unique id.
func (r *Room) ID() string { return r.id }

// Deposit returns the entry wager captured at creation.
func (r *Room) Deposit() decimal.Decimal { return r.deposit }

// Difficulty returns the room's difficulty.
func (r *Room) Difficulty() engine.Difficulty { return r.difficulty }

// CreatedAt returns the room's creation time.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// RewardInfo returns the pool projection captured at creation.
func (r *Room) RewardInfo() RewardInfo { return r.rewardInfo }

// Occupant returns the identity bound to the room, zero before join.
func (r *Room) Occupant() identity.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.occupant
}

// Started reports whether the game has started.
func (r *Room) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// State returns a copy of the current game state, or false before the
// game starts.
func (r *Room) State() (engine.State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == nil {
		return engine.State{}, false
	}
	return *r.state, true
}

func (r *Room) sendConn() Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}
