package server

import (
	"errors"

	"github.com/lox/chunkrun/internal/engine"
	"github.com/lox/chunkrun/internal/identity"
	"github.com/lox/chunkrun/internal/rewardpool"
	"github.com/lox/chunkrun/internal/room"
)

// errorCode maps a core error onto the stable machine-readable code
// carried by error messages. Every rejected request yields exactly one
// error message; the connection itself stays open.
func errorCode(err error) string {
	switch {
	case errors.Is(err, identity.ErrInvalidAddress):
		return "invalid_identity"
	case errors.Is(err, ErrInvalidDeposit):
		return "invalid_deposit"
	case errors.Is(err, room.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, room.ErrAlreadyInRoom):
		return "already_in_room"
	case errors.Is(err, room.ErrRoomOccupied):
		return "room_occupied"
	case errors.Is(err, room.ErrNotAuthorized), errors.Is(err, engine.ErrNotOwner), errors.Is(err, ErrNotAdmin):
		return "not_authorized"
	case errors.Is(err, room.ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, room.ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, room.ErrNotStarted):
		return "not_started"
	case errors.Is(err, engine.ErrGameOver):
		return "game_over"
	case errors.Is(err, engine.ErrInvalidAction):
		return "invalid_action"
	case errors.Is(err, rewardpool.ErrEmptyPool):
		return "empty_pool"
	case errors.Is(err, rewardpool.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal_error"
	}
}
