package server

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/lox/chunkrun/internal/engine"
	"github.com/lox/chunkrun/internal/identity"
	"github.com/lox/chunkrun/internal/rewardpool"
	"github.com/lox/chunkrun/internal/room"
	"github.com/lox/chunkrun/internal/settlement"
)

var (
	// ErrNotAdmin indicates a pool reset request from a non-admin identity.
	ErrNotAdmin = errors.New("server: reset requires the admin identity")

	// ErrInvalidDeposit indicates a malformed or non-positive entry deposit.
	ErrInvalidDeposit = errors.New("server: invalid entry deposit")
)

// GameServiceConfig carries the orchestrator's settings.
type GameServiceConfig struct {
	// CloseDelay is how long a finished room lingers so the client can
	// receive the final broadcast before teardown.
	CloseDelay time.Duration

	// Operator receives losing deposits in settlement allocations.
	Operator identity.Address

	// Admin is the only identity allowed to reset the reward pool.
	// Zero means resets are disabled.
	Admin identity.Address

	// Defaults applied when a join request creates a room and omits them.
	DefaultDeposit    decimal.Decimal
	DefaultDifficulty engine.Difficulty

	// SettlementTimeout bounds each settlement call.
	SettlementTimeout time.Duration
}

// GameService routes inbound requests to the room registry, settles
// terminal outcomes against the reward pool, and drives the external
// settlement collaborator. It is the only component that touches both
// the registry and the ledger.
type GameService struct {
	registry *room.Registry
	pool     *rewardpool.Ledger
	settle   settlement.Client
	logger   *log.Logger
	clock    quartz.Clock
	config   GameServiceConfig
}

// NewGameService creates the orchestrator. A nil clock uses the real
// clock; a nil settlement client disables settlement.
func NewGameService(registry *room.Registry, pool *rewardpool.Ledger, settle settlement.Client, logger *log.Logger, clock quartz.Clock, config GameServiceConfig) *GameService {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if settle == nil {
		settle = settlement.Noop{}
	}
	if config.CloseDelay <= 0 {
		config.CloseDelay = 3 * time.Second
	}
	if config.SettlementTimeout <= 0 {
		config.SettlementTimeout = 5 * time.Second
	}
	if config.DefaultDifficulty == "" {
		config.DefaultDifficulty = engine.DifficultyEasy
	}

	return &GameService{
		registry: registry,
		pool:     pool,
		settle:   settle,
		logger:   logger.WithPrefix("game-service"),
		clock:    clock,
		config:   config,
	}
}

// Registry exposes the room registry for broadcast fanout.
func (gs *GameService) Registry() *room.Registry {
	return gs.registry
}

// CreateRoom allocates a new room. Deposit affordability is not
// verified here; the deposit only has to be a positive decimal.
func (gs *GameService) CreateRoom(depositStr, difficultyStr string) (*room.Room, error) {
	deposit := gs.config.DefaultDeposit
	if depositStr != "" {
		parsed, err := decimal.NewFromString(depositStr)
		if err != nil {
			return nil, ErrInvalidDeposit
		}
		deposit = parsed
	}
	if deposit.Sign() <= 0 {
		return nil, ErrInvalidDeposit
	}

	difficulty := gs.config.DefaultDifficulty
	if difficultyStr != "" {
		difficulty = engine.Difficulty(difficultyStr)
	}

	return gs.registry.CreateRoom(deposit, difficulty), nil
}

// JoinRoom binds the player to the room and broadcasts room:ready.
func (gs *GameService) JoinRoom(roomID string, player identity.Address, conn room.Conn) (room.JoinResult, error) {
	res, err := gs.registry.Join(roomID, player, conn)
	if err != nil {
		return room.JoinResult{}, err
	}

	gs.registry.Broadcast(roomID, MessageTypeRoomReady.String(), RoomReadyData{
		RoomID:       res.RoomID,
		Role:         res.Role,
		EntryDeposit: res.EntryDeposit.String(),
		RewardInfo:   RewardInfoFromRoom(res.RewardInfo),
	})

	return res, nil
}

// StartGame starts the room's game, opens the settlement artifact, and
// broadcasts game:started. The settlement open is detached: a failure
// is logged and the game proceeds regardless.
func (gs *GameService) StartGame(roomID string, requester identity.Address) (engine.State, error) {
	state, err := gs.registry.StartGame(roomID, requester)
	if err != nil {
		return engine.State{}, err
	}

	go gs.openSettlement(roomID, requester, state.EntryDeposit)

	gs.registry.Broadcast(roomID, MessageTypeGameStarted.String(), GameStartedData{
		RoomID: roomID,
		State:  GameStateFromEngine(state),
	})

	return state, nil
}

// HandleAction runs one action through the registry and broadcasts the
// resulting state. Terminal outcomes settle against the pool exactly
// once: the registry rejects any action after the terminal transition,
// so this path is reachable once per room.
func (gs *GameService) HandleAction(roomID string, requester identity.Address, data ActionData) (room.ActionResult, error) {
	res, err := gs.registry.ProcessAction(roomID, requester, actionFromData(data))
	if err != nil {
		return room.ActionResult{}, err
	}

	gs.registry.Broadcast(roomID, MessageTypeRoomState.String(), RoomStateData{
		RoomID: roomID,
		State:  GameStateFromEngine(res.State),
	})

	if res.Terminal {
		gs.settleOutcome(roomID, res)
	}

	return res, nil
}

// settleOutcome applies the one pool mutation for a finished game,
// broadcasts game:over, kicks off the detached settlement close, and
// schedules room teardown. Teardown proceeds whether or not settlement
// succeeds.
func (gs *GameService) settleOutcome(roomID string, res room.ActionResult) {
	deposit := res.State.EntryDeposit
	winnings := decimal.Zero
	var allocations [2]decimal.Decimal

	switch res.Result {
	case engine.ResultWin:
		withdrawn, err := gs.pool.Withdraw()
		switch {
		case err == nil:
			winnings = withdrawn
		case errors.Is(err, rewardpool.ErrEmptyPool):
			// An empty pool pays nothing but the win still counts.
			gs.pool.RecordWin()
		default:
			gs.logger.Error("Pool withdraw failed", "room", roomID, "error", err)
		}
		allocations = [2]decimal.Decimal{deposit, decimal.Zero}

	case engine.ResultLose:
		if _, err := gs.pool.Deposit(deposit); err != nil {
			gs.logger.Error("Pool deposit failed", "room", roomID, "deposit", deposit, "error", err)
		}
		allocations = [2]decimal.Decimal{decimal.Zero, deposit}
	}

	poolTotal := gs.pool.Total()
	gs.logger.Info("Game settled",
		"room", roomID,
		"result", res.Result,
		"score", res.State.Score,
		"winnings", winnings,
		"poolTotal", poolTotal)

	gs.registry.Broadcast(roomID, MessageTypeGameOver.String(), GameOverData{
		RoomID:       roomID,
		Result:       string(res.Result),
		Score:        res.State.Score,
		EntryDeposit: deposit.String(),
		Winnings:     winnings.String(),
		PoolTotal:    poolTotal.String(),
	})

	go gs.closeSettlement(roomID, allocations)

	gs.registry.ScheduleClose(roomID, gs.config.CloseDelay)
}

func (gs *GameService) openSettlement(roomID string, player identity.Address, deposit decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.Background(), gs.config.SettlementTimeout)
	defer cancel()

	err := gs.settle.OpenSession(ctx, settlement.OpenRequest{
		RoomID:   roomID,
		Player:   player,
		Operator: gs.config.Operator,
		Deposit:  deposit,
	})
	if err != nil {
		gs.logger.Error("Failed to open settlement session", "room", roomID, "error", err)
	}
}

// closeSettlement closes the session artifact. Failures are logged and
// swallowed: the game outcome and pool state are already final, so a
// failed close only leaves the artifact to reconcile out of band.
func (gs *GameService) closeSettlement(roomID string, allocations [2]decimal.Decimal) {
	ctx, cancel := context.WithTimeout(context.Background(), gs.config.SettlementTimeout)
	defer cancel()

	err := gs.settle.CloseSession(ctx, settlement.CloseRequest{
		RoomID:      roomID,
		Allocations: allocations,
	})
	if err != nil {
		gs.logger.Error("Failed to close settlement session", "room", roomID, "error", err)
	}
}

// HandleDisconnect reclaims the player's room when the transport layer
// loses the connection.
func (gs *GameService) HandleDisconnect(player identity.Address) {
	gs.registry.Leave(player)
}

// PoolStats returns the current pool snapshot and projections.
func (gs *GameService) PoolStats() PoolStatsData {
	snap := gs.pool.Snapshot()
	stats := gs.pool.Stats()

	return PoolStatsData{
		TotalAmount:     snap.Total.String(),
		TotalGames:      snap.Games,
		TotalWins:       snap.Wins,
		TotalLosses:     snap.Losses,
		WinRate:         stats.WinRate,
		AverageLossSize: stats.AverageLossSize.String(),
		LastUpdated:     snap.LastUpdated,
	}
}

// ResetPool zeroes the ledger. Only the configured admin identity may
// do this; with no admin configured every reset is rejected.
func (gs *GameService) ResetPool(requester identity.Address) error {
	if gs.config.Admin.IsZero() || !requester.Equal(gs.config.Admin) {
		return ErrNotAdmin
	}

	gs.pool.Reset()
	gs.logger.Info("Reward pool reset", "by", requester)
	return nil
}

// actionFromData maps a wire action onto an engine action. Unknown
// kinds pass through so the engine rejects them with its own error.
func actionFromData(data ActionData) engine.Action {
	return engine.Action{
		Kind:      engine.ActionKind(data.Action),
		Direction: engine.Direction(data.Direction),
		Distance:  data.Distance,
		Object:    engine.ObjectType(data.ObjectType),
		Value:     data.Value,
	}
}
