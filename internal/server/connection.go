package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/chunkrun/internal/identity"
)

// Connection represents a WebSocket connection to a client
type Connection struct {
	conn        *websocket.Conn
	send        chan *Message
	player      identity.Address
	roomID      string
	logger      *log.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	mu          sync.RWMutex
	closeOnce   sync.Once
	gameService *GameService
}

// NewConnection creates a new connection wrapper
func NewConnection(conn *websocket.Conn, logger *log.Logger, gameService *GameService) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		conn:        conn,
		send:        make(chan *Message, 256),
		logger:      logger.WithPrefix("conn"),
		ctx:         ctx,
		cancel:      cancel,
		gameService: gameService,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.conn.Close()
	})
	return err
}

// SendMessage sends a message to the client
func (c *Connection) SendMessage(msg *Message) error {
	defer func() {
		if r := recover(); r != nil {
			// Channel was closed, this is expected during shutdown
			c.logger.Debug("Attempted to send message on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close() // Ignore close errors
		return ErrConnectionClosed
	}
}

// Send implements room.Conn: it wraps the payload in a typed message
// envelope and queues it for the client.
func (c *Connection) Send(kind string, payload any) error {
	msg, err := NewMessage(MessageType(kind), payload)
	if err != nil {
		return err
	}
	return c.SendMessage(msg)
}

// SetPlayer associates this connection with a player identity
func (c *Connection) SetPlayer(player identity.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.player = player
}

// GetPlayer returns the associated player identity
func (c *Connection) GetPlayer() identity.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.player
}

// SetRoom associates this connection with a room
func (c *Connection) SetRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

// GetRoom returns the associated room ID
func (c *Connection) GetRoom() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192
)

var (
	ErrConnectionClosed = websocket.ErrCloseSent
)

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }() // Ignore close errors during cleanup

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // Ignore close errors during cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type, "player", c.GetPlayer())

	switch msg.Type {
	case MessageTypeJoinRoom:
		var data JoinRoomData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse join room data")
			return
		}
		c.handleJoinRoom(data)

	case MessageTypeStartGame:
		var data StartGameData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse start game data")
			return
		}
		c.handleStartGame(data)

	case MessageTypeAction:
		var data ActionData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse action data")
			return
		}
		c.handleAction(data)

	case MessageTypePoolStats:
		c.handlePoolStats()

	case MessageTypeResetPool:
		var data ResetPoolData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.sendError("invalid_message", "Failed to parse reset pool data")
			return
		}
		c.handleResetPool(data)

	default:
		c.sendError("unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

// sendError sends an error message to the client
func (c *Connection) sendError(code, message string) {
	errorMsg, err := NewMessage(MessageTypeError, ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}

	_ = c.SendMessage(errorMsg) // Ignore send errors during error handling
}

func (c *Connection) sendCoreError(err error) {
	c.sendError(errorCode(err), err.Error())
}

func (c *Connection) handleJoinRoom(data JoinRoomData) {
	c.logger.Info("Join room request", "identity", data.Identity, "roomId", data.RoomID)

	if c.gameService == nil {
		c.sendError("service_unavailable", "Game service not available")
		return
	}

	player, err := identity.Parse(data.Identity)
	if err != nil {
		c.sendCoreError(err)
		return
	}

	roomID := data.RoomID
	createdRoom := false
	if roomID == "" {
		created, err := c.gameService.CreateRoom(data.EntryDeposit, data.Difficulty)
		if err != nil {
			c.sendCoreError(err)
			return
		}
		roomID = created.ID()
		createdRoom = true

		response, _ := NewMessage(MessageTypeRoomCreated, RoomCreatedData{
			RoomID:       roomID,
			EntryDeposit: created.Deposit().String(),
			Difficulty:   string(created.Difficulty()),
			RewardInfo:   RewardInfoFromRoom(created.RewardInfo()),
		})
		_ = c.SendMessage(response) // Ignore send errors
	}

	if _, err := c.gameService.JoinRoom(roomID, player, c); err != nil {
		// A failed join must leave the registry untouched, so a room
		// created for this request cannot be left behind unoccupied.
		if createdRoom {
			c.gameService.Registry().Close(roomID)
		}
		c.sendCoreError(err)
		return
	}

	c.SetPlayer(player)
	c.SetRoom(roomID)
}

func (c *Connection) handleStartGame(data StartGameData) {
	c.logger.Info("Start game request", "roomId", data.RoomID, "player", c.GetPlayer())

	if c.gameService == nil {
		c.sendError("service_unavailable", "Game service not available")
		return
	}

	player := c.GetPlayer()
	if player.IsZero() {
		c.sendError("not_in_room", "Must join a room first")
		return
	}

	if _, err := c.gameService.StartGame(data.RoomID, player); err != nil {
		c.sendCoreError(err)
		return
	}

	// No direct response: game:started is broadcast to the room.
}

func (c *Connection) handleAction(data ActionData) {
	c.logger.Debug("Action request", "roomId", data.RoomID, "action", data.Action, "player", c.GetPlayer())

	if c.gameService == nil {
		c.sendError("service_unavailable", "Game service not available")
		return
	}

	player := c.GetPlayer()
	if player.IsZero() {
		c.sendError("not_in_room", "Must join a room first")
		return
	}

	if _, err := c.gameService.HandleAction(data.RoomID, player, data); err != nil {
		c.sendCoreError(err)
		return
	}
}

func (c *Connection) handlePoolStats() {
	if c.gameService == nil {
		c.sendError("service_unavailable", "Game service not available")
		return
	}

	response, _ := NewMessage(MessageTypePoolStatsInfo, c.gameService.PoolStats())
	_ = c.SendMessage(response) // Ignore send errors
}

func (c *Connection) handleResetPool(data ResetPoolData) {
	c.logger.Info("Pool reset request", "identity", data.Identity)

	if c.gameService == nil {
		c.sendError("service_unavailable", "Game service not available")
		return
	}

	requester, err := identity.Parse(data.Identity)
	if err != nil {
		c.sendCoreError(err)
		return
	}

	if err := c.gameService.ResetPool(requester); err != nil {
		c.sendCoreError(err)
		return
	}

	response, _ := NewMessage(MessageTypePoolReset, PoolResetData{ResetBy: requester.String()})
	_ = c.SendMessage(response) // Ignore send errors
}
