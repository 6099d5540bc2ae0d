package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atlassonic/atlas/internal/logging"
	"github.com/atlassonic/atlas/internal/realtime"
)

const writeTimeout = 10 * time.Second

// Client is an authenticated WebSocket connection scoped to one tenant.
type Client struct {
	ConnID      string
	Info        ClientInfo
	TenantID    string
	UserID      string
	Socket      *websocket.Conn
	AuthResult  AuthResult
	ConnectedAt time.Time

	mu     sync.Mutex
	closed bool
	subs   map[string]*realtime.Subscription
	log    *logging.Logger
}

// NewClient creates a Client for a newly authenticated connection.
func NewClient(conn *websocket.Conn, params ConnectParams, tenantID string, authResult AuthResult, log *logging.Logger) *Client {
	return &Client{
		ConnID:      uuid.New().String(),
		Info:        params.Client,
		TenantID:    tenantID,
		UserID:      params.UserID,
		Socket:      conn,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
		subs:        make(map[string]*realtime.Subscription),
		log:         log,
	}
}

// Send writes a frame. Safe for concurrent use.
func (c *Client) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.Socket.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.Socket.WriteJSON(frame)
}

// SendEvent sends a named event with payload.
func (c *Client) SendEvent(event string, payload any, seq int64) error {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// Respond sends a success response for a request.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for a request.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Watch forwards a subscription's batches to the client as
// realtime.changes events until the subscription closes.
func (c *Client) Watch(sub *realtime.Subscription, nextSeq func() int64) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sub.Close()
		return false
	}
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	go func() {
		for batch := range sub.C {
			ev := ChangesEvent{
				SubscriptionID: sub.ID,
				Topic:          batch.Topic,
				Table:          batch.Table,
				RecordIDs:      batch.RecordIDs,
				Count:          len(batch.Changes),
			}
			if err := c.SendEvent(EventChanges, ev, nextSeq()); err != nil {
				c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("dropping realtime batch")
			}
		}
	}()
	return true
}

// Unwatch closes one of the client's subscriptions.
func (c *Client) Unwatch(id string) bool {
	c.mu.Lock()
	sub, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		sub.Close()
	}
	return ok
}

// Subscriptions returns the number of open subscriptions.
func (c *Client) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Close closes the connection and its subscriptions.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = map[string]*realtime.Subscription{}
	err := c.Socket.Close()
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return err
}

// ClientRegistry tracks connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{clients: make(map[string]*Client), log: log}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Str("tenant", c.TenantID).Msg("client connected")
}

// Remove unregisters a client.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Msg("client disconnected")
}

// Get returns a client by connection id.
func (r *ClientRegistry) Get(connID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[connID]
	return c, ok
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*Client)
	r.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
