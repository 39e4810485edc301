package server

import (
	"net"
	"sync"
	"time"

	"framechat/internal/v1/protocol"
	"framechat/internal/v1/store"
)

// Connection tracks one accepted socket: its writer, the bound user once
// authentication succeeds, the current room, and the last heartbeat instant.
type Connection struct {
	id   string
	conn net.Conn

	writeMu sync.Mutex // serializes frame writes; two Sends never interleave

	mu       sync.RWMutex
	user     *store.User
	roomID   string
	lastBeat time.Time

	teardownOnce sync.Once
}

func newConnection(id string, conn net.Conn) *Connection {
	return &Connection{
		id:       id,
		conn:     conn,
		lastBeat: time.Now(),
	}
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// Send serializes the message and writes the frame to the socket. Writes
// from concurrent tasks are serialized by the connection's write lock.
func (c *Connection) Send(m *protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteMessage(c.conn, m)
}

// User returns the authenticated user, or nil before auth succeeds.
func (c *Connection) User() *store.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Connection) setUser(u *store.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
}

// Room returns the current room id, or "" when not in a room.
func (c *Connection) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Connection) setRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
}

// Touch refreshes the heartbeat instant.
func (c *Connection) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastBeat = time.Now()
}

// LastHeartbeat returns the most recent heartbeat instant.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastBeat
}

// countingReader tracks bytes consumed from the underlying stream so the
// read loop can attribute exact frame sizes to the performance monitor.
type countingReader struct {
	r net.Conn
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)
	return n, err
}
