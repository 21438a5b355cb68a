// Package rewardpool implements the shared reward-pool ledger.
//
// Losing runs deposit their entry wager into the pool; a winning run
// takes the entire pool. The ledger is a single shared resource mutated
// from many rooms' goroutines, so every operation is an atomic
// read-modify-write under one mutex. Amounts are decimals end to end:
// the ledger must stay exact over unbounded deposit/withdraw cycles, so
// binary floats are never used.
package rewardpool

import (
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyPool indicates a withdrawal from a pool holding nothing.
	ErrEmptyPool = errors.New("rewardpool: pool is empty")

	// ErrInvalidAmount indicates a non-positive deposit.
	ErrInvalidAmount = errors.New("rewardpool: deposit amount must be positive")
)

// Ledger is the process-wide reward pool. Construct with New and share
// one instance between rooms; tests may create as many as they like.
type Ledger struct {
	mu    sync.Mutex
	clock quartz.Clock

	total       decimal.Decimal
	deposited   decimal.Decimal // lifetime sum of all deposits, for loss stats
	games       uint64
	wins        uint64
	losses      uint64
	lastUpdated time.Time
}

// New creates an empty ledger. A nil clock uses the real clock.
func New(clock quartz.Clock) *Ledger {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Ledger{clock: clock}
}

// Deposit adds a losing run's entry wager to the pool and returns the
// new total. Exactly one of Deposit/Withdraw is applied per terminal
// game; the caller guarantees the once-only discipline by settling
// inside the room's single terminal transition.
func (l *Ledger) Deposit(amount decimal.Decimal) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Decimal{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = l.total.Add(amount)
	l.deposited = l.deposited.Add(amount)
	l.losses++
	l.games++
	l.lastUpdated = l.clock.Now()

	return l.total, nil
}

// Withdraw pays out the entire pool to a winning run and resets the
// total to exactly zero. Fails with ErrEmptyPool, leaving all counters
// untouched, when there is nothing to withdraw.
func (l *Ledger) Withdraw() (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.total.Sign() <= 0 {
		return decimal.Decimal{}, ErrEmptyPool
	}

	withdrawn := l.total
	l.total = decimal.Zero
	l.wins++
	l.games++
	l.lastUpdated = l.clock.Now()

	return withdrawn, nil
}

// RecordWin counts a winning game that paid nothing because the pool
// was empty. Keeps the games == wins + losses invariant intact for
// zero-pool wins.
func (l *Ledger) RecordWin() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.wins++
	l.games++
	l.lastUpdated = l.clock.Now()
}

// Total returns the current pool total.
func (l *Ledger) Total() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Snapshot is a point-in-time view of the ledger.
type Snapshot struct {
	Total       decimal.Decimal `json:"totalAmount"`
	Games       uint64          `json:"totalGames"`
	Wins        uint64          `json:"totalWins"`
	Losses      uint64          `json:"totalLosses"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// Snapshot returns a consistent copy of the ledger's state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Snapshot{
		Total:       l.total,
		Games:       l.games,
		Wins:        l.wins,
		Losses:      l.losses,
		LastUpdated: l.lastUpdated,
	}
}

// Stats is a read-only projection of pool economics.
type Stats struct {
	WinRate         float64         `json:"winRate"`
	AverageLossSize decimal.Decimal `json:"averageLossSize"`
}

// Stats computes the win rate and average loss size. Both report zero
// when no games (or no losses) have been recorded.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats Stats
	if l.games > 0 {
		stats.WinRate = float64(l.wins) / float64(l.games)
	}
	if l.losses > 0 {
		stats.AverageLossSize = l.deposited.Div(decimal.NewFromUint64(l.losses))
	} else {
		stats.AverageLossSize = decimal.Zero
	}
	return stats
}

// Reset zeroes the total and every counter. Authorization is the
// caller's responsibility; the server layer gates this behind the
// configured admin address.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = decimal.Zero
	l.deposited = decimal.Zero
	l.games = 0
	l.wins = 0
	l.losses = 0
	l.lastUpdated = l.clock.Now()
}
