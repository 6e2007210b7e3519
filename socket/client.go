package socket

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"storyforge/internal/collab/model"
	"storyforge/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Grace period for a heartbeat response; a silent client past this is
	// marked inactive.
	pongWait = 60 * time.Second
	// Ping interval; must be shorter than pongWait.
	pingPeriod = 30 * time.Second
	// Per-connection outbound buffer.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	sessionID string
	userID    string
	send      chan []byte
}

// ServeWs upgrades the connection, admits the user through the session
// manager, and starts the read/write pumps. The state-sync snapshot is the
// first message the new member receives.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, userID string) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "Missing sessionId parameter", http.StatusBadRequest)
		return
	}
	inviteToken := r.URL.Query().Get("invite")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	client := &Client{
		hub:       hub,
		conn:      conn,
		sessionID: sessionID,
		userID:    userID,
		send:      make(chan []byte, sendBuffer),
	}

	// The state sync is queued and the connection registered inside the
	// session's actor turn: no edit can be applied between the snapshot
	// and the client joining the room, so the applied-edit stream picks
	// up exactly where the snapshot ends.
	_, err = hub.manager.JoinAttached(sessionID, userID, inviteToken, func(snap *model.StateSync) {
		syncPayload, _ := json.Marshal(model.NewMessage(model.MsgStateSync, snap))
		client.send <- syncPayload
		hub.register(client)
	})
	if err != nil {
		logger.Sugar.Warnf("Join rejected for user %s on session %s: %v", userID, sessionID, err)
		msg, _ := json.Marshal(model.NewMessage(model.MsgError, map[string]string{"error": err.Error()}))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, msg)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		// Inactive, not removed: the collaborator keeps their slot and
		// attribution, and may rejoin.
		if err := c.hub.manager.Leave(c.sessionID, c.userID); err != nil && !errors.Is(err, model.ErrSessionClosed) {
			logger.Sugar.Warnf("Leave failed for user %s: %v", c.userID, err)
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg model.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Sugar.Errorf("Error unmarshalling message: %v", err)
			continue
		}

		switch msg.Type {
		case model.MsgEdit:
			var edit model.EditAction
			if err := json.Unmarshal(msg.Data, &edit); err != nil {
				logger.Sugar.Errorf("Error unmarshalling edit from %s: %v", c.userID, err)
				continue
			}
			// Server-authoritative attribution; the submitted user id is
			// never trusted.
			if err := c.hub.manager.Submit(c.sessionID, c.userID, edit); err != nil {
				c.sendError(err)
			}
		case model.MsgCursor:
			var cur model.CursorUpdate
			if err := json.Unmarshal(msg.Data, &cur); err != nil {
				continue
			}
			cur.UserID = c.userID
			// Presence relay only; cursors never enter the resolver.
			c.hub.Broadcast(c.sessionID, c.userID, model.NewMessage(model.MsgCursor, cur))
		case model.MsgHeartbeat:
			// Application-level heartbeat from clients that cannot send
			// pong frames; treated the same as a pong.
			c.conn.SetReadDeadline(time.Now().Add(pongWait))
		default:
			logger.Sugar.Debugf("Dropping message of unknown type %q from %s", msg.Type, c.userID)
		}
	}
}

func (c *Client) sendError(err error) {
	payload, _ := json.Marshal(model.NewMessage(model.MsgError, map[string]string{"error": err.Error()}))
	select {
	case c.send <- payload:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
