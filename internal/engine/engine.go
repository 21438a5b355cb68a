package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrGameOver indicates the game already reached a terminal state.
	// Terminal states are immutable; every further action is rejected.
	ErrGameOver = errors.New("engine: game is over")

	// ErrNotOwner indicates the action's claimed identity does not match
	// the state's player.
	ErrNotOwner = errors.New("engine: action player does not own this game")

	// ErrInvalidAction indicates an unrecognized action kind or
	// out-of-range action parameters.
	ErrInvalidAction = errors.New("engine: invalid action")
)

// Apply computes the next state for an action. It is pure: the input
// state is never mutated, and the returned state is independent of it.
// On error the input state is returned unchanged.
//
// Terminal detection runs after every successful transition, loss check
// first: lives exhausted reports lose even if an action could somehow
// satisfy both conditions at once.
func Apply(s State, a Action) (State, error) {
	if s.GameOver {
		return s, ErrGameOver
	}
	if !a.Player.Equal(s.Player) {
		return s, ErrNotOwner
	}

	next := s
	switch a.Kind {
	case ActionMove:
		if err := applyMove(&next, a.Direction, a.Distance); err != nil {
			return s, err
		}

	case ActionJump:
		// Jump is sugar for moving up two.
		if err := applyMove(&next, DirectionUp, 2); err != nil {
			return s, err
		}

	case ActionInteract:
		if a.Value < 0 {
			return s, fmt.Errorf("%w: interact value must be >= 0, got %d", ErrInvalidAction, a.Value)
		}
		next.Score += a.Value * a.Object.scoreMultiplier()

	case ActionCompleteChunk:
		next.Chunks = next.cloneChunks()
		next.Chunks[next.CurrentChunk].Completed = true
		if next.CurrentChunk < len(next.Chunks)-1 {
			next.CurrentChunk++
		}
		// Re-completing an already-completed chunk re-grants the bonus.
		next.Score += ChunkBonus

	case ActionLoseLife:
		if next.Lives > 0 {
			next.Lives--
		}
		next.Position = Position{}

	default:
		return s, fmt.Errorf("%w: unknown action kind %q", ErrInvalidAction, a.Kind)
	}

	return evaluateTerminal(next), nil
}

func applyMove(s *State, dir Direction, distance int) error {
	if distance < 1 {
		return fmt.Errorf("%w: move distance must be >= 1, got %d", ErrInvalidAction, distance)
	}

	switch dir {
	case DirectionLeft:
		s.Position.X -= distance
		if s.Position.X < 0 {
			s.Position.X = 0
		}
	case DirectionRight:
		s.Position.X += distance
	case DirectionUp:
		s.Position.Y -= distance
		if s.Position.Y < 0 {
			s.Position.Y = 0
		}
	case DirectionDown:
		s.Position.Y += distance
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidAction, dir)
	}

	return nil
}

// evaluateTerminal runs the terminal-condition checks. Loss is checked
// before win; the first true condition sets the result.
func evaluateTerminal(s State) State {
	if s.Lives <= 0 {
		s.GameOver = true
		s.Result = ResultLose
		return s
	}
	if s.AllChunksCompleted() {
		s.GameOver = true
		s.Result = ResultWin
	}
	return s
}
