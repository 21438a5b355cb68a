package server

import (
	"encoding/json"
	"time"

	"github.com/lox/chunkrun/internal/engine"
	"github.com/lox/chunkrun/internal/room"
)

// Message represents the base WebSocket message structure
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(messageType MessageType, data interface{}) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Client → Server Messages

type JoinRoomData struct {
	Identity     string `json:"identity"`
	RoomID       string `json:"roomId,omitempty"`
	EntryDeposit string `json:"entryDeposit,omitempty"`
	Difficulty   string `json:"difficulty,omitempty"`
}

type StartGameData struct {
	RoomID string `json:"roomId"`
}

type ActionData struct {
	RoomID     string `json:"roomId"`
	Action     string `json:"action"`
	Direction  string `json:"direction,omitempty"`
	Distance   int    `json:"distance,omitempty"`
	ObjectType string `json:"objectType,omitempty"`
	Value      int    `json:"value,omitempty"`
}

type ResetPoolData struct {
	Identity string `json:"identity"`
}

// Server → Client Messages

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RewardInfoData struct {
	PoolTotal  string  `json:"poolTotal"`
	TotalGames uint64  `json:"totalGames"`
	WinRate    float64 `json:"winRate"`
}

type RoomCreatedData struct {
	RoomID       string         `json:"roomId"`
	EntryDeposit string         `json:"entryDeposit"`
	Difficulty   string         `json:"difficulty"`
	RewardInfo   RewardInfoData `json:"rewardInfo"`
}

type RoomReadyData struct {
	RoomID       string         `json:"roomId"`
	Role         string         `json:"role"`
	EntryDeposit string         `json:"entryDeposit"`
	RewardInfo   RewardInfoData `json:"rewardInfo"`
}

type ChunkState struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// GameStateData is the full formatted game state sent to clients.
type GameStateData struct {
	Player       string       `json:"player"`
	Position     PositionData `json:"position"`
	Lives        int          `json:"lives"`
	Score        int          `json:"score"`
	Chunks       []ChunkState `json:"chunks"`
	CurrentChunk int          `json:"currentChunk"`
	IsGameOver   bool         `json:"isGameOver"`
	GameResult   string       `json:"gameResult"`
	Difficulty   string       `json:"difficulty"`
	EntryDeposit string       `json:"entryDeposit"`
	PoolSnapshot string       `json:"rewardPoolSnapshot"`
}

type PositionData struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type GameStartedData struct {
	RoomID string        `json:"roomId"`
	State  GameStateData `json:"state"`
}

type RoomStateData struct {
	RoomID string        `json:"roomId"`
	State  GameStateData `json:"state"`
}

type GameOverData struct {
	RoomID       string `json:"roomId"`
	Result       string `json:"result"`
	Score        int    `json:"score"`
	EntryDeposit string `json:"entryDeposit"`
	Winnings     string `json:"winnings"`
	PoolTotal    string `json:"poolTotal"`
}

type PoolStatsData struct {
	TotalAmount     string    `json:"totalAmount"`
	TotalGames      uint64    `json:"totalGames"`
	TotalWins       uint64    `json:"totalWins"`
	TotalLosses     uint64    `json:"totalLosses"`
	WinRate         float64   `json:"winRate"`
	AverageLossSize string    `json:"averageLossSize"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

type PoolResetData struct {
	ResetBy string `json:"resetBy"`
}

// Helper functions to convert between internal types and message types

func GameStateFromEngine(s engine.State) GameStateData {
	chunks := make([]ChunkState, len(s.Chunks))
	for i, c := range s.Chunks {
		chunks[i] = ChunkState{Name: c.Name, Completed: c.Completed}
	}

	return GameStateData{
		Player:       s.Player.String(),
		Position:     PositionData{X: s.Position.X, Y: s.Position.Y},
		Lives:        s.Lives,
		Score:        s.Score,
		Chunks:       chunks,
		CurrentChunk: s.CurrentChunk,
		IsGameOver:   s.GameOver,
		GameResult:   string(s.Result),
		Difficulty:   string(s.Difficulty),
		EntryDeposit: s.EntryDeposit.String(),
		PoolSnapshot: s.PoolSnapshot.String(),
	}
}

func RewardInfoFromRoom(info room.RewardInfo) RewardInfoData {
	return RewardInfoData{
		PoolTotal:  info.PoolTotal.String(),
		TotalGames: info.TotalGames,
		WinRate:    info.WinRate,
	}
}
