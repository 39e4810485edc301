// Package server implements the chat server core: the TLS listener, the
// per-connection read loop, priority-scheduled dispatch, room fan-out,
// and the liveness reaper.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"framechat/internal/v1/logging"
	"framechat/internal/v1/metrics"
	"framechat/internal/v1/protocol"
	"framechat/internal/v1/qos"
	"framechat/internal/v1/rooms"
	"framechat/internal/v1/store"
)

const (
	// DefaultReaperInterval is how often the liveness sweep runs.
	DefaultReaperInterval = 30 * time.Second

	// DefaultHeartbeatWindow is the silence threshold after which a
	// connection is evicted.
	DefaultHeartbeatWindow = 60 * time.Second
)

// Options configures a Server.
type Options struct {
	Addr            string
	TLSConfig       *tls.Config // nil disables TLS (tests)
	UserStore       *store.Store
	MaxConcurrent   int
	ReaperInterval  time.Duration // defaults to DefaultReaperInterval
	HeartbeatWindow time.Duration // defaults to DefaultHeartbeatWindow
	StatsInterval   time.Duration // 0 disables the periodic stats log
}

// Server aggregates the room registry, user store, scheduler, performance
// monitor, and the connection map, and owns the accept loop.
type Server struct {
	addr      string
	tlsConfig *tls.Config

	users   *store.Store
	rooms   *rooms.Registry
	sched   *qos.Scheduler
	monitor *metrics.Monitor

	reaperInterval  time.Duration
	heartbeatWindow time.Duration
	statsInterval   time.Duration

	mu      sync.RWMutex
	conns   map[string]*Connection // authenticated connections, keyed by id
	serving map[string]*Connection // every accepted socket, for shutdown

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Server from its collaborators.
func New(opts Options) *Server {
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = DefaultReaperInterval
	}
	if opts.HeartbeatWindow <= 0 {
		opts.HeartbeatWindow = DefaultHeartbeatWindow
	}
	s := &Server{
		addr:            opts.Addr,
		tlsConfig:       opts.TLSConfig,
		users:           opts.UserStore,
		rooms:           rooms.NewRegistry(),
		sched:           qos.NewScheduler(opts.MaxConcurrent),
		monitor:         metrics.NewMonitor(),
		reaperInterval:  opts.ReaperInterval,
		heartbeatWindow: opts.HeartbeatWindow,
		statsInterval:   opts.StatsInterval,
		conns:           make(map[string]*Connection),
		serving:         make(map[string]*Connection),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Monitor exposes the performance monitor for the ops endpoint.
func (s *Server) Monitor() *metrics.Monitor {
	return s.monitor
}

// Rooms exposes the room registry for the ops endpoint.
func (s *Server) Rooms() *rooms.Registry {
	return s.rooms
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Listening reports whether the chat listener is bound.
func (s *Server) Listening() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener != nil
}

// Start binds the listener and runs the accept loop, the liveness reaper,
// and the periodic stats reporter until Shutdown.
func (s *Server) Start() error {
	var ln net.Listener
	var err error
	if s.tlsConfig != nil {
		ln, err = tls.Listen("tcp", s.addr, s.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logging.Info(s.ctx, "Server started", zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.tlsConfig != nil))

	s.wg.Add(1)
	go s.reapLoop()
	if s.statsInterval > 0 {
		s.wg.Add(1)
		go s.statsLoop()
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.Warn(s.ctx, "Accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(conn)
		}()
	}
}

// ServeConn runs the read loop for one accepted socket until clean EOF,
// error, eviction, or quit, then tears the connection down exactly once.
func (s *Server) ServeConn(conn net.Conn) {
	c := newConnection(uuid.NewString(), conn)
	ctx := logging.WithConnection(s.ctx, c.id)

	s.mu.Lock()
	s.serving[c.id] = c
	s.mu.Unlock()

	s.monitor.RecordConnection()
	logging.Info(ctx, "New connection", zap.String("remote", conn.RemoteAddr().String()))

	defer s.teardown(c)

	reader := &countingReader{r: conn}
	for {
		before := reader.n
		msg, err := protocol.ReadMessage(reader)
		if err != nil {
			if err == io.EOF {
				return
			}
			if errors.Is(err, protocol.ErrTruncatedFrame) {
				return
			}
			if errors.Is(err, protocol.ErrFrameTooLarge) || errors.Is(err, protocol.ErrInvalidMessage) {
				// Best-effort error reply, then close.
				_ = c.Send(protocol.New(protocol.KindError,
					protocol.ErrorPayload{Error: "Protocol error"}, protocol.PriorityNormal))
				logging.Warn(ctx, "Protocol error, closing connection", zap.Error(err))
				return
			}
			select {
			case <-s.ctx.Done():
			default:
				logging.Warn(ctx, "Read failed", zap.Error(err))
			}
			return
		}

		s.monitor.RecordMessage(string(msg.Type), int(reader.n-before))

		// The handler does not block on processing; it hands the frame to
		// the scheduler at the frame's declared priority and resumes reading.
		m := msg
		s.sched.Enqueue(func() {
			s.dispatch(ctx, c, m)
		}, msg.Priority)
	}
}

// register inserts the connection into the server's connection map.
// Called on successful authentication.
func (s *Server) register(c *Connection) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

// teardown is the single path through which a connection leaves the
// system. Idempotent.
func (s *Server) teardown(c *Connection) {
	c.teardownOnce.Do(func() {
		ctx := logging.WithConnection(s.ctx, c.id)

		var username string
		if user := c.User(); user != nil {
			username = user.Username
			s.users.Logout(username)
			ctx = logging.WithUsername(ctx, username)
		}

		if roomID := c.Room(); roomID != "" && username != "" {
			s.rooms.Leave(roomID, username)
			metrics.ActiveRooms.Set(float64(len(s.rooms.List())))
			s.broadcastToRoom(roomID, protocol.New(protocol.KindUserList,
				protocol.UserListEvent{Action: "leave", Username: username},
				protocol.PriorityNormal).WithRoom(roomID), c.id)
		}

		_ = c.conn.Close()

		s.mu.Lock()
		delete(s.conns, c.id)
		delete(s.serving, c.id)
		s.mu.Unlock()

		s.monitor.RecordDisconnection()
		logging.Info(ctx, "Connection closed")
	})
}

// broadcastToRoom fans one message out to every connection currently in
// the room except excludeID. Each send is independent: one broken
// recipient never aborts delivery to the others, but its connection is
// scheduled for teardown.
func (s *Server) broadcastToRoom(roomID string, m *protocol.Message, excludeID string) {
	s.mu.RLock()
	recipients := make([]*Connection, 0, len(s.conns))
	for id, c := range s.conns {
		if id == excludeID {
			continue
		}
		if c.Room() == roomID {
			recipients = append(recipients, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range recipients {
		if err := c.Send(m); err != nil {
			logging.Warn(logging.WithConnection(s.ctx, c.id),
				"Fan-out send failed, scheduling teardown", zap.Error(err))
			go s.teardown(c)
		}
	}
}

// reapLoop periodically evicts connections whose last heartbeat is older
// than the heartbeat window.
func (s *Server) reapLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.reapOnce()
		}
	}
}

func (s *Server) reapOnce() {
	cutoff := time.Now().Add(-s.heartbeatWindow)

	s.mu.RLock()
	var stale []*Connection
	for _, c := range s.conns {
		if c.LastHeartbeat().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	s.mu.RUnlock()

	for _, c := range stale {
		logging.Info(logging.WithConnection(s.ctx, c.id), "Evicting inactive connection",
			zap.Time("last_heartbeat", c.LastHeartbeat()))
		s.teardown(c)
	}
}

// statsLoop logs a performance snapshot at the configured interval.
func (s *Server) statsLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			stats := s.monitor.Snapshot()
			logging.Info(s.ctx, "Performance snapshot",
				zap.Float64("uptime_seconds", stats.UptimeSeconds),
				zap.Int64("total_connections", stats.TotalConnections),
				zap.Int64("concurrent_users", stats.ConcurrentUsers),
				zap.Int64("messages_processed", stats.MessagesProcessed),
				zap.Int64("bytes_transferred", stats.BytesTransferred),
				zap.Float64("avg_processing_time_ms", stats.AvgProcessingTimeMs),
				zap.Float64("messages_per_second", stats.MessagesPerSecond),
				zap.Float64("bandwidth_mbps", stats.BandwidthMbps))
		}
	}
}

// Shutdown stops accepting, cancels all readers, drains the scheduler
// (in-flight tasks run to completion), and waits for the loops to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info(ctx, "Shutting down server")

	s.cancel()

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	conns := make([]*Connection, 0, len(s.serving))
	for _, c := range s.serving {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		s.teardown(c)
	}

	if err := s.sched.Drain(ctx); err != nil {
		return fmt.Errorf("drain scheduler: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
