package room

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/shopspring/decimal"

	"github.com/lox/chunkrun/internal/engine"
	"github.com/lox/chunkrun/internal/identity"
	"github.com/lox/chunkrun/internal/rewardpool"
)

var (
	alice = identity.MustParse("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	bob   = identity.MustParse("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
)

type fakeConn struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	Kind    string
	Payload any
}

func (c *fakeConn) Send(kind string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{Kind: kind, Payload: payload})
	return nil
}

func (c *fakeConn) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

func testRegistry(t *testing.T) (*Registry, *rewardpool.Ledger) {
	t.Helper()
	pool := rewardpool.New(nil)
	logger := log.New(io.Discard)
	return NewRegistry(pool, logger, nil), pool
}

func deposit(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateRoomSnapshotsPool(t *testing.T) {
	t.Parallel()

	reg, pool := testRegistry(t)
	if _, err := pool.Deposit(deposit("0.25")); err != nil {
		t.Fatal(err)
	}

	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	if room.ID() == "" {
		t.Fatal("expected non-empty room id")
	}
	if !room.RewardInfo().PoolTotal.Equal(deposit("0.25")) {
		t.Errorf("rewardInfo.PoolTotal = %s, want 0.25", room.RewardInfo().PoolTotal)
	}

	// Reward info is point-in-time: later pool mutations don't show up.
	if _, err := pool.Deposit(deposit("1")); err != nil {
		t.Fatal(err)
	}
	if !room.RewardInfo().PoolTotal.Equal(deposit("0.25")) {
		t.Error("rewardInfo should not track the live pool")
	}
}

func TestJoinRoom(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)

	res, err := reg.Join(room.ID(), alice, &fakeConn{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Role != "player" {
		t.Errorf("role = %q, want player", res.Role)
	}
	if !res.EntryDeposit.Equal(deposit("0.05")) {
		t.Errorf("entryDeposit = %s, want 0.05", res.EntryDeposit)
	}
	if got := room.Occupant(); !got.Equal(alice) {
		t.Errorf("occupant = %s, want %s", got, alice)
	}
}

func TestJoinErrors(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room1 := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	room2 := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)

	if _, err := reg.Join("nonexistent", alice, &fakeConn{}); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}

	if _, err := reg.Join(room1.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}

	// Same identity joining a second room fails; the index still points
	// at the first room.
	if _, err := reg.Join(room2.ID(), alice, &fakeConn{}); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("err = %v, want ErrAlreadyInRoom", err)
	}
	if got, ok := reg.RoomFor(alice); !ok || got.ID() != room1.ID() {
		t.Errorf("RoomFor(alice) = %v, want room1", got)
	}

	// A differently cased form of the same identity is the same player.
	aliceUpper := identity.MustParse("0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	if _, err := reg.Join(room2.ID(), aliceUpper, &fakeConn{}); !errors.Is(err, ErrAlreadyInRoom) {
		t.Errorf("cased identity err = %v, want ErrAlreadyInRoom", err)
	}

	if _, err := reg.Join(room1.ID(), bob, &fakeConn{}); !errors.Is(err, ErrRoomOccupied) {
		t.Errorf("err = %v, want ErrRoomOccupied", err)
	}
}

func TestStartGame(t *testing.T) {
	t.Parallel()

	reg, pool := testRegistry(t)
	if _, err := pool.Deposit(deposit("0.33")); err != nil {
		t.Fatal(err)
	}

	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyNormal)
	if _, err := reg.Join(room.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}

	state, err := reg.StartGame(room.ID(), alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(state.Chunks) != 5 {
		t.Errorf("chunks = %d, want 5", len(state.Chunks))
	}
	if !state.PoolSnapshot.Equal(deposit("0.33")) {
		t.Errorf("poolSnapshot = %s, want 0.33", state.PoolSnapshot)
	}
	if !state.EntryDeposit.Equal(deposit("0.05")) {
		t.Errorf("entryDeposit = %s, want 0.05", state.EntryDeposit)
	}

	if _, err := reg.StartGame(room.ID(), alice); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartGameErrors(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)

	if _, err := reg.StartGame("nonexistent", alice); !errors.Is(err, ErrRoomNotFound) {
		t.Errorf("err = %v, want ErrRoomNotFound", err)
	}

	if _, err := reg.Join(room.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.StartGame(room.ID(), bob); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("err = %v, want ErrNotAuthorized", err)
	}
}

func TestProcessAction(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	if _, err := reg.Join(room.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}

	// Acting before the game starts is a state conflict.
	_, err := reg.ProcessAction(room.ID(), alice, engine.Action{Kind: engine.ActionJump})
	if !errors.Is(err, ErrNotStarted) {
		t.Fatalf("err = %v, want ErrNotStarted", err)
	}

	if _, err := reg.StartGame(room.ID(), alice); err != nil {
		t.Fatal(err)
	}

	if _, err := reg.ProcessAction(room.ID(), bob, engine.Action{Kind: engine.ActionJump}); !errors.Is(err, ErrNotInRoom) {
		t.Errorf("err = %v, want ErrNotInRoom", err)
	}

	res, err := reg.ProcessAction(room.ID(), alice, engine.Action{
		Kind: engine.ActionInteract, Object: engine.ObjectGem, Value: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.State.Score != 10 {
		t.Errorf("score = %d, want 10", res.State.Score)
	}
	if res.Terminal {
		t.Error("game should not be terminal")
	}

	// The registry stores the new state between actions.
	if state, ok := room.State(); !ok || state.Score != 10 {
		t.Errorf("stored score = %d, want 10", state.Score)
	}
}

func TestProcessActionToTerminal(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	if _, err := reg.Join(room.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.StartGame(room.ID(), alice); err != nil {
		t.Fatal(err)
	}

	var res ActionResult
	var err error
	for i := 0; i < 3; i++ {
		res, err = reg.ProcessAction(room.ID(), alice, engine.Action{Kind: engine.ActionLoseLife})
		if err != nil {
			t.Fatal(err)
		}
	}
	if !res.Terminal || res.Result != engine.ResultLose {
		t.Fatalf("result = %+v, want terminal lose", res)
	}

	// Terminal states reject everything after; the terminal transition
	// can only be observed once.
	_, err = reg.ProcessAction(room.ID(), alice, engine.Action{Kind: engine.ActionLoseLife})
	if !errors.Is(err, engine.ErrGameOver) {
		t.Errorf("err = %v, want ErrGameOver", err)
	}
}

func TestLeaveRemovesRoomAndIndex(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	if _, err := reg.Join(room.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}

	reg.Leave(alice)

	if _, ok := reg.Get(room.ID()); ok {
		t.Error("room should be gone after leave")
	}
	if _, ok := reg.RoomFor(alice); ok {
		t.Error("identity index entry should be gone after leave")
	}

	// Leaving when not in a room is a no-op.
	reg.Leave(bob)
}

func TestCloseIsUnconditionalAndIdempotent(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	if _, err := reg.Join(room.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}

	reg.Close(room.ID())
	reg.Close(room.ID()) // closing an absent room is fine

	if reg.Count() != 0 {
		t.Errorf("rooms = %d, want 0", reg.Count())
	}
	if _, ok := reg.RoomFor(alice); ok {
		t.Error("index should be cleared by close")
	}

	// The identity can now join a fresh room.
	room2 := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	if _, err := reg.Join(room2.ID(), alice, &fakeConn{}); err != nil {
		t.Errorf("rejoin after close: %v", err)
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	conn := &fakeConn{}
	if _, err := reg.Join(room.ID(), alice, conn); err != nil {
		t.Fatal(err)
	}

	reg.Broadcast(room.ID(), "room:ready", map[string]string{"roomId": room.ID()})

	msgs := conn.messages()
	if len(msgs) != 1 || msgs[0].Kind != "room:ready" {
		t.Fatalf("messages = %+v, want one room:ready", msgs)
	}

	// Broadcasting to a closed room is a silent success.
	reg.Close(room.ID())
	reg.Broadcast(room.ID(), "room:state", nil)
	if len(conn.messages()) != 1 {
		t.Error("no message should be delivered after close")
	}
}

func TestScheduleClose(t *testing.T) {
	t.Parallel()

	clock := quartz.NewMock(t)
	pool := rewardpool.New(nil)
	reg := NewRegistry(pool, log.New(io.Discard), clock)

	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	if _, err := reg.Join(room.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}

	reg.ScheduleClose(room.ID(), 3*time.Second)

	if _, ok := reg.Get(room.ID()); !ok {
		t.Fatal("room should still exist before the delay elapses")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	clock.Advance(3 * time.Second).MustWait(ctx)

	if _, ok := reg.Get(room.ID()); ok {
		t.Error("room should be closed after the delay")
	}
	if _, ok := reg.RoomFor(alice); ok {
		t.Error("index should be cleared by the scheduled close")
	}
}

func TestScheduleCloseCancelledByExplicitClose(t *testing.T) {
	t.Parallel()

	clock := quartz.NewMock(t)
	pool := rewardpool.New(nil)
	reg := NewRegistry(pool, log.New(io.Discard), clock)

	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyEasy)
	reg.ScheduleClose(room.ID(), time.Minute)
	reg.Close(room.ID())

	// Advancing past the deadline must not fire against a new room that
	// happens to reuse nothing; it must simply be a no-op.
	clock.Advance(time.Minute)

	if reg.Count() != 0 {
		t.Errorf("rooms = %d, want 0", reg.Count())
	}
}

func TestConcurrentActionsOnDistinctRooms(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)

	const roomsN = 8
	players := make([]identity.Address, roomsN)
	ids := make([]string, roomsN)
	for i := 0; i < roomsN; i++ {
		players[i] = identity.MustParse(fmt.Sprintf("0x%040x", i+1))
		r := reg.CreateRoom(deposit("0.05"), engine.DifficultyHard)
		if _, err := reg.Join(r.ID(), players[i], &fakeConn{}); err != nil {
			t.Fatal(err)
		}
		if _, err := reg.StartGame(r.ID(), players[i]); err != nil {
			t.Fatal(err)
		}
		ids[i] = r.ID()
	}

	const actionsPer = 100
	var wg sync.WaitGroup
	for i := 0; i < roomsN; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < actionsPer; j++ {
				_, err := reg.ProcessAction(ids[i], players[i], engine.Action{
					Kind: engine.ActionInteract, Object: engine.ObjectCoin, Value: 1,
				})
				if err != nil {
					t.Errorf("room %d action %d: %v", i, j, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < roomsN; i++ {
		room, ok := reg.Get(ids[i])
		if !ok {
			t.Fatalf("room %d missing", i)
		}
		state, _ := room.State()
		if state.Score != actionsPer {
			t.Errorf("room %d score = %d, want %d", i, state.Score, actionsPer)
		}
	}
}

func TestConcurrentActionsOnSameRoomSerialize(t *testing.T) {
	t.Parallel()

	reg, _ := testRegistry(t)
	room := reg.CreateRoom(deposit("0.05"), engine.DifficultyHard)
	if _, err := reg.Join(room.ID(), alice, &fakeConn{}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.StartGame(room.ID(), alice); err != nil {
		t.Fatal(err)
	}

	// A duplicated connection replaying actions must not interleave
	// partial writes: every increment lands exactly once.
	const workers = 4
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := reg.ProcessAction(room.ID(), alice, engine.Action{
					Kind: engine.ActionInteract, Object: engine.ObjectCoin, Value: 1,
				}); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	state, _ := room.State()
	if state.Score != workers*perWorker {
		t.Errorf("score = %d, want %d", state.Score, workers*perWorker)
	}
}
