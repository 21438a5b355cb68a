package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/lox/chunkrun/internal/engine"
	"github.com/lox/chunkrun/internal/identity"
	"github.com/lox/chunkrun/internal/rewardpool"
	"github.com/lox/chunkrun/internal/roomid"
)

var (
	// ErrRoomNotFound indicates no room exists for the given id. A room
	// that was closed and a room that never existed are indistinguishable.
	ErrRoomNotFound = errors.New("room: not found")

	// ErrAlreadyInRoom indicates the identity is already occupying a room.
	ErrAlreadyInRoom = errors.New("room: player already in a room")

	// ErrRoomOccupied indicates the room already has its occupant.
	ErrRoomOccupied = errors.New("room: already occupied")

	// ErrNotAuthorized indicates the requester is not the room's occupant.
	ErrNotAuthorized = errors.New("room: requester is not the occupant")

	// ErrAlreadyStarted indicates the game was already started.
	ErrAlreadyStarted = errors.New("room: game already started")

	// ErrNotInRoom indicates the requester does not occupy the room.
	ErrNotInRoom = errors.New("room: requester not in room")

	// ErrNotStarted indicates the game has not started yet.
	ErrNotStarted = errors.New("room: game not started")
)

// JoinResult is returned to a successfully joined player.
type JoinResult struct {
	RoomID       string          `json:"roomId"`
	Role         string          `json:"role"`
	EntryDeposit decimal.Decimal `json:"entryDeposit"`
	RewardInfo   RewardInfo      `json:"rewardInfo"`
}

// ActionResult is the outcome of processing one action.
type ActionResult struct {
	State    engine.State
	Terminal bool
	Result   engine.Result
}

// Registry owns all active rooms and the identity index. Lookups from
// many rooms' handlers run concurrently under the read lock; creation
// and teardown take the write lock. Failing branches of every operation
// return before mutating anything.
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	byIdentity map[string]string // identity key -> room id

	pool   *rewardpool.Ledger
	ids    *roomid.Generator
	clock  quartz.Clock
	logger *log.Logger
}

// NewRegistry creates an empty registry backed by the given ledger.
// A nil clock uses the real clock.
func NewRegistry(pool *rewardpool.Ledger, logger *log.Logger, clock quartz.Clock) *Registry {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Registry{
		rooms:      make(map[string]*Room),
		byIdentity: make(map[string]string),
		pool:       pool,
		ids:        roomid.NewGenerator(nil),
		clock:      clock,
		logger:     logger.WithPrefix("registry"),
	}
}

// CreateRoom allocates a new empty room, snapshotting current pool
// economics into its reward info.
func (reg *Registry) CreateRoom(deposit decimal.Decimal, difficulty engine.Difficulty) *Room {
	snap := reg.pool.Snapshot()
	stats := reg.pool.Stats()

	room := &Room{
		id:         reg.ids.Generate(),
		deposit:    deposit,
		difficulty: difficulty,
		createdAt:  reg.clock.Now(),
		rewardInfo: RewardInfo{
			PoolTotal:  snap.Total,
			TotalGames: snap.Games,
			WinRate:    stats.WinRate,
			CapturedAt: reg.clock.Now(),
		},
	}

	reg.mu.Lock()
	reg.rooms[room.id] = room
	reg.mu.Unlock()

	reg.logger.Info("Room created", "room", room.id, "deposit", deposit, "difficulty", difficulty)
	return room
}

// Join binds an identity and its connection to a room and marks it
// ready. An identity can occupy at most one room at a time.
func (reg *Registry) Join(roomID string, player identity.Address, conn Conn) (JoinResult, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if existing, ok := reg.byIdentity[player.Key()]; ok {
		return JoinResult{}, fmt.Errorf("%w: %s", ErrAlreadyInRoom, existing)
	}

	room, ok := reg.rooms[roomID]
	if !ok {
		return JoinResult{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !room.occupant.IsZero() {
		return JoinResult{}, ErrRoomOccupied
	}

	room.occupant = player
	room.conn = conn
	room.ready = true
	reg.byIdentity[player.Key()] = roomID

	reg.logger.Info("Player joined room", "room", roomID, "player", player)

	return JoinResult{
		RoomID:       roomID,
		Role:         "player",
		EntryDeposit: room.deposit,
		RewardInfo:   room.rewardInfo,
	}, nil
}

// StartGame lazily constructs the game state, snapshotting the live
// pool total for display, and flips the started flag.
func (reg *Registry) StartGame(roomID string, requester identity.Address) (engine.State, error) {
	room, ok := reg.lookup(roomID)
	if !ok {
		return engine.State{}, ErrRoomNotFound
	}

	poolTotal := reg.pool.Total()

	room.mu.Lock()
	defer room.mu.Unlock()

	if !requester.Equal(room.occupant) {
		return engine.State{}, ErrNotAuthorized
	}
	if room.started {
		return engine.State{}, ErrAlreadyStarted
	}

	state := engine.NewState(room.occupant, room.difficulty, room.deposit, poolTotal)
	room.state = &state
	room.started = true

	reg.logger.Info("Game started", "room", roomID, "player", requester, "chunks", len(state.Chunks))
	return state, nil
}

// ProcessAction runs one action through the engine under the room's
// mutex and stores the resulting state. Actions for one room are
// serialized; distinct rooms proceed concurrently.
func (reg *Registry) ProcessAction(roomID string, requester identity.Address, action engine.Action) (ActionResult, error) {
	room, ok := reg.lookup(roomID)
	if !ok {
		return ActionResult{}, ErrRoomNotFound
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if !requester.Equal(room.occupant) {
		return ActionResult{}, ErrNotInRoom
	}
	if !room.started || room.state == nil {
		return ActionResult{}, ErrNotStarted
	}

	action.Player = requester
	next, err := engine.Apply(*room.state, action)
	if err != nil {
		return ActionResult{}, err
	}

	room.state = &next
	return ActionResult{
		State:    next,
		Terminal: next.GameOver,
		Result:   next.Result,
	}, nil
}

// Leave removes the identity's room entirely. Because rooms are single
// occupant, abandoning a room tears it down.
func (reg *Registry) Leave(player identity.Address) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	roomID, ok := reg.byIdentity[player.Key()]
	if !ok {
		return
	}
	reg.removeLocked(roomID)
	reg.logger.Info("Player left, room removed", "room", roomID, "player", player)
}

// Close removes the room and its index entries unconditionally. Closing
// an absent room is a no-op.
func (reg *Registry) Close(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.removeLocked(roomID)
}

// removeLocked deletes a room and its index entry atomically. Callers
// hold the write lock.
func (reg *Registry) removeLocked(roomID string) {
	room, ok := reg.rooms[roomID]
	if !ok {
		return
	}

	room.mu.Lock()
	if room.closeTimer != nil {
		room.closeTimer.Stop()
		room.closeTimer = nil
	}
	occupant := room.occupant
	room.mu.Unlock()

	delete(reg.rooms, roomID)
	if !occupant.IsZero() {
		delete(reg.byIdentity, occupant.Key())
	}
}

// ScheduleClose arranges for the room to be closed after the delay,
// giving the client time to receive the final broadcast. The timer is
// cancelled if the room is closed earlier.
func (reg *Registry) ScheduleClose(roomID string, delay time.Duration) {
	room, ok := reg.lookup(roomID)
	if !ok {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if room.closeTimer != nil {
		return
	}
	room.closeTimer = reg.clock.AfterFunc(delay, func() {
		reg.Close(roomID)
	})
}

// Broadcast delivers a message to the connection bound to the room.
// A room that no longer exists is treated as success: a room racing to
// close during a broadcast is a benign race, not an error.
func (reg *Registry) Broadcast(roomID, kind string, payload any) {
	room, ok := reg.lookup(roomID)
	if !ok {
		return
	}

	conn := room.sendConn()
	if conn == nil {
		return
	}
	if err := conn.Send(kind, payload); err != nil {
		reg.logger.Error("Failed to broadcast to room", "room", roomID, "kind", kind, "error", err)
	}
}

// Get returns a room by id.
func (reg *Registry) Get(roomID string) (*Room, bool) {
	return reg.lookup(roomID)
}

// RoomFor returns the room occupied by the identity, if any.
func (reg *Registry) RoomFor(player identity.Address) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	roomID, ok := reg.byIdentity[player.Key()]
	if !ok {
		return nil, false
	}
	room, ok := reg.rooms[roomID]
	return room, ok
}

// Count returns the number of active rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

func (reg *Registry) lookup(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	room, ok := reg.rooms[roomID]
	return room, ok
}
