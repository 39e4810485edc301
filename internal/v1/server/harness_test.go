package server

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"framechat/internal/v1/protocol"
	"framechat/internal/v1/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// harness wires a Server to in-memory pipes so router behavior can be
// exercised without a real listener. MaxConcurrent is pinned to 1 so
// request and fan-out ordering is deterministic.
type harness struct {
	t   *testing.T
	srv *Server
	wg  sync.WaitGroup
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	users, err := store.New(filepath.Join(t.TempDir(), "users.json"), testSecret)
	require.NoError(t, err)

	h := &harness{
		t: t,
		srv: New(Options{
			Addr:          "127.0.0.1:0",
			UserStore:     users,
			MaxConcurrent: 1,
		}),
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.srv.Shutdown(ctx))

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("connection goroutines did not exit")
		}
	})
	return h
}

func (h *harness) registerUser(username, password string) {
	h.t.Helper()
	_, err := h.srv.users.Register(username, password)
	require.NoError(h.t, err)
}

// connFor returns the registered server-side connection bound to username.
func (h *harness) connFor(username string) *Connection {
	h.t.Helper()
	h.srv.mu.RLock()
	defer h.srv.mu.RUnlock()
	for _, c := range h.srv.conns {
		if u := c.User(); u != nil && u.Username == username {
			return c
		}
	}
	h.t.Fatalf("no registered connection for %q", username)
	return nil
}

// dial attaches a new client over net.Pipe and starts its serve loop.
func (h *harness) dial() *testClient {
	h.t.Helper()

	clientSide, serverSide := net.Pipe()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.srv.ServeConn(serverSide)
	}()

	tc := &testClient{
		conn:  clientSide,
		inbox: make(chan *protocol.Message, 64),
	}
	go tc.readLoop()
	h.t.Cleanup(tc.close)
	return tc
}

// testClient drains every inbound frame into a channel so server-side
// broadcasts never block on an unread pipe.
type testClient struct {
	conn      net.Conn
	inbox     chan *protocol.Message
	closeOnce sync.Once
}

func (tc *testClient) readLoop() {
	defer close(tc.inbox)
	for {
		m, err := protocol.ReadMessage(tc.conn)
		if err != nil {
			return
		}
		tc.inbox <- m
	}
}

func (tc *testClient) close() {
	tc.closeOnce.Do(func() { _ = tc.conn.Close() })
}

func (tc *testClient) send(t *testing.T, m *protocol.Message) {
	t.Helper()
	require.NoError(t, tc.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, protocol.WriteMessage(tc.conn, m))
}

// sendRaw writes bytes straight to the socket, bypassing the codec.
func (tc *testClient) sendRaw(t *testing.T, raw []byte) {
	t.Helper()
	require.NoError(t, tc.conn.SetWriteDeadline(time.Now().Add(2*time.Second)))
	_, err := tc.conn.Write(raw)
	require.NoError(t, err)
}

func (tc *testClient) next(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case m, ok := <-tc.inbox:
		require.True(t, ok, "connection closed while waiting for a message")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

func (tc *testClient) expect(t *testing.T, kind protocol.Kind) *protocol.Message {
	t.Helper()
	m := tc.next(t)
	require.Equal(t, kind, m.Type, "unexpected message kind, data=%v", m.Data)
	return m
}

// expectClosed waits for the read loop to observe the peer close.
func (tc *testClient) expectClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-tc.inbox:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("connection was not closed")
		}
	}
}

func (tc *testClient) authenticate(t *testing.T, username, password string) {
	t.Helper()
	tc.send(t, protocol.New(protocol.KindAuthRequest,
		protocol.AuthRequest{Username: username, Password: password}, protocol.PriorityNormal))

	var resp protocol.AuthResponse
	require.NoError(t, tc.expect(t, protocol.KindAuthResponse).Bind(&resp))
	require.True(t, resp.Success, "authentication refused: %s", resp.Error)
	require.Equal(t, username, resp.Username)
}

// joinRoom sends join_room and consumes the success reply.
func (tc *testClient) joinRoom(t *testing.T, roomID string) {
	t.Helper()
	tc.send(t, protocol.New(protocol.KindJoinRoom,
		protocol.JoinRoom{RoomID: roomID}, protocol.PriorityHigh))
	m := tc.expect(t, protocol.KindSuccess)
	require.Equal(t, roomID, m.Data["room_id"])
}

// createRoom sends create_room and returns the new room id.
func (tc *testClient) createRoom(t *testing.T, name string) string {
	t.Helper()
	tc.send(t, protocol.New(protocol.KindCreateRoom,
		protocol.CreateRoom{Name: name}, protocol.PriorityNormal))
	m := tc.expect(t, protocol.KindSuccess)
	roomID, _ := m.Data["room_id"].(string)
	require.NotEmpty(t, roomID)
	return roomID
}

func errorText(t *testing.T, m *protocol.Message) string {
	t.Helper()
	var payload protocol.ErrorPayload
	require.NoError(t, m.Bind(&payload))
	return payload.Error
}
