package engine

import "github.com/lox/chunkrun/internal/identity"

// ActionKind identifies a player action.
type ActionKind string

const (
	ActionMove          ActionKind = "move"
	ActionJump          ActionKind = "jump"
	ActionInteract      ActionKind = "interact"
	ActionCompleteChunk ActionKind = "complete_chunk"
	ActionLoseLife      ActionKind = "lose_life"
)

// Direction is a movement axis. Left and up move toward the origin and
// clamp at zero.
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

// ObjectType is something the player can interact with. Unknown objects
// are accepted but score nothing.
type ObjectType string

const (
	ObjectCoin     ObjectType = "coin"
	ObjectGem      ObjectType = "gem"
	ObjectTreasure ObjectType = "treasure"
	ObjectPowerup  ObjectType = "powerup"
)

// scoreMultiplier returns the score multiplier for an interact target,
// or 0 for unknown objects.
func (o ObjectType) scoreMultiplier() int {
	switch o {
	case ObjectCoin, ObjectPowerup:
		return 1
	case ObjectGem:
		return 2
	case ObjectTreasure:
		return 5
	default:
		return 0
	}
}

// Action is one player input. Player carries the claimed identity, which
// Apply verifies against the state's owner.
type Action struct {
	Kind   ActionKind
	Player identity.Address

	// Move fields.
	Direction Direction
	Distance  int

	// Interact fields.
	Object ObjectType
	Value  int
}
