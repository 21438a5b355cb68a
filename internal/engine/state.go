// Package engine implements the chunk-run game as a pure state machine.
//
// A game is a sequence of states produced by Apply. The engine performs
// no I/O and shares no state, so it needs no locking: callers own the
// states they hold and serialize access to them.
package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lox/chunkrun/internal/identity"
)

// Result is the terminal outcome of a game.
type Result string

const (
	ResultNone Result = ""
	ResultWin  Result = "win"
	ResultLose Result = "lose"
)

// Difficulty selects how many chunks a run contains.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

// ChunkCount returns the number of level chunks for the difficulty.
// Unknown or empty difficulties fall back to easy.
func (d Difficulty) ChunkCount() int {
	switch d {
	case DifficultyNormal:
		return 5
	case DifficultyHard:
		return 7
	default:
		return 3
	}
}

// StartingLives is the number of lives a run begins with.
const StartingLives = 3

// ChunkBonus is the score granted for completing a chunk.
const ChunkBonus = 100

// Chunk is one sequential level segment. Completing every chunk in order
// is the win condition.
type Chunk struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// Position is the player's 2D location. Left and up clamp at zero; right
// and down are unbounded.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// State is a full game state. It is owned exclusively by one room for
// the game's lifetime; Apply never mutates its input.
type State struct {
	Player       identity.Address `json:"player"`
	Position     Position         `json:"position"`
	Lives        int              `json:"lives"`
	Score        int              `json:"score"`
	Chunks       []Chunk          `json:"chunks"`
	CurrentChunk int              `json:"currentChunk"`
	GameOver     bool             `json:"isGameOver"`
	Result       Result           `json:"gameResult"`
	Difficulty   Difficulty       `json:"difficulty"`

	// EntryDeposit is the wager captured at room creation, carried
	// unchanged for settlement.
	EntryDeposit decimal.Decimal `json:"entryDeposit"`

	// PoolSnapshot is the reward pool total observed at game start.
	// Display only; the engine never re-reads the live pool.
	PoolSnapshot decimal.Decimal `json:"rewardPoolSnapshot"`
}

// NewState creates the initial state for a run.
func NewState(player identity.Address, difficulty Difficulty, entryDeposit, poolSnapshot decimal.Decimal) State {
	count := difficulty.ChunkCount()
	chunks := make([]Chunk, count)
	for i := range chunks {
		chunks[i] = Chunk{Name: chunkName(i)}
	}

	return State{
		Player:       player,
		Lives:        StartingLives,
		Chunks:       chunks,
		Difficulty:   difficulty,
		EntryDeposit: entryDeposit,
		PoolSnapshot: poolSnapshot,
	}
}

func chunkName(i int) string {
	return fmt.Sprintf("chunk-%d", i+1)
}

// AllChunksCompleted reports whether every chunk has been completed.
func (s State) AllChunksCompleted() bool {
	for _, c := range s.Chunks {
		if !c.Completed {
			return false
		}
	}
	return len(s.Chunks) > 0
}

// cloneChunks returns an independent copy of the chunk list so a
// transition never writes through to the caller's state.
func (s State) cloneChunks() []Chunk {
	chunks := make([]Chunk, len(s.Chunks))
	copy(chunks, s.Chunks)
	return chunks
}
