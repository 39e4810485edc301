package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"framechat/internal/v1/logging"
	"framechat/internal/v1/metrics"
	"framechat/internal/v1/protocol"
	"framechat/internal/v1/store"
)

// dispatch routes one decoded message to its handler. Runs on a
// scheduler-selected worker task; errors never cross to other connections.
func (s *Server) dispatch(ctx context.Context, c *Connection, msg *protocol.Message) {
	start := time.Now()
	defer func() {
		s.monitor.RecordProcessing(string(msg.Type), time.Since(start))
	}()

	switch msg.Type {
	case protocol.KindAuthRequest:
		s.handleAuth(ctx, c, msg)
	case protocol.KindRegisterRequest:
		s.handleRegister(ctx, c, msg)
	case protocol.KindCreateRoom:
		s.handleCreateRoom(ctx, c, msg)
	case protocol.KindJoinRoom:
		s.handleJoinRoom(ctx, c, msg)
	case protocol.KindLeaveRoom:
		s.handleLeaveRoom(ctx, c)
	case protocol.KindListRooms:
		s.handleListRooms(c)
	case protocol.KindUserList:
		s.handleUserList(c)
	case protocol.KindTextMessage:
		s.handleTextMessage(ctx, c, msg)
	case protocol.KindFileTransfer:
		s.handleFileTransfer(ctx, c, msg)
	case protocol.KindHeartbeat:
		s.handleHeartbeat(c)
	case protocol.KindServerInfo:
		s.handleServerInfo(c)
	default:
		// Kinds a client has no business sending (replies, fan-out events).
		s.sendError(c, "Unsupported message type")
	}
}

// requireAuth replies with an authorization error when the connection has
// not authenticated. Returns the bound user otherwise.
func (s *Server) requireAuth(c *Connection) (*store.User, bool) {
	user := c.User()
	if user == nil {
		s.sendError(c, "Authentication required")
		return nil, false
	}
	return user, true
}

func (s *Server) sendError(c *Connection, text string) {
	s.reply(c, protocol.New(protocol.KindError,
		protocol.ErrorPayload{Error: text}, protocol.PriorityNormal))
}

// reply performs a best-effort send; a failed write marks the connection
// broken and schedules its teardown.
func (s *Server) reply(c *Connection, m *protocol.Message) {
	if err := c.Send(m); err != nil {
		logging.Warn(logging.WithConnection(s.ctx, c.id), "Reply send failed, scheduling teardown",
			zap.Error(err))
		go s.teardown(c)
	}
}

func (s *Server) handleAuth(ctx context.Context, c *Connection, msg *protocol.Message) {
	if c.User() != nil {
		s.sendError(c, "Already authenticated")
		return
	}

	var req protocol.AuthRequest
	if err := msg.Bind(&req); err != nil {
		s.sendError(c, "Malformed auth request")
		return
	}

	user, _, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, store.ErrInvalidCredentials) && !errors.Is(err, store.ErrSessionActive) {
			logging.Error(ctx, "Authentication failed", zap.Error(err))
		}
		s.reply(c, protocol.New(protocol.KindAuthResponse,
			protocol.AuthResponse{Success: false, Error: "Invalid credentials"},
			protocol.PriorityNormal))
		return
	}

	c.setUser(user)
	s.register(c)

	logging.Info(logging.WithUsername(ctx, user.Username), "User authenticated")
	s.reply(c, protocol.New(protocol.KindAuthResponse,
		protocol.AuthResponse{Success: true, UserID: user.ID, Username: user.Username},
		protocol.PriorityNormal))
}

func (s *Server) handleRegister(ctx context.Context, c *Connection, msg *protocol.Message) {
	var req protocol.RegisterRequest
	if err := msg.Bind(&req); err != nil {
		s.sendError(c, "Malformed register request")
		return
	}

	user, err := s.users.Register(req.Username, req.Password)
	if err != nil {
		resp := protocol.RegisterResponse{Success: false, Error: "Username already exists"}
		if !errors.Is(err, store.ErrUserExists) {
			logging.Error(ctx, "Registration failed", zap.Error(err))
			resp.Error = "Registration failed"
		}
		s.reply(c, protocol.New(protocol.KindRegisterResponse, resp, protocol.PriorityNormal))
		return
	}

	logging.Info(logging.WithUsername(ctx, user.Username), "User registered")
	s.reply(c, protocol.New(protocol.KindRegisterResponse,
		protocol.RegisterResponse{Success: true, UserID: user.ID}, protocol.PriorityNormal))
}

func (s *Server) handleCreateRoom(ctx context.Context, c *Connection, msg *protocol.Message) {
	if _, ok := s.requireAuth(c); !ok {
		return
	}

	var req protocol.CreateRoom
	if err := msg.Bind(&req); err != nil {
		s.sendError(c, "Malformed create_room request")
		return
	}

	roomID := s.rooms.Create(req.Name)
	metrics.ActiveRooms.Set(float64(len(s.rooms.List())))

	logging.Info(logging.WithRoom(ctx, roomID), "Room created", zap.String("name", req.Name))
	s.reply(c, protocol.New(protocol.KindSuccess,
		map[string]any{"room_id": roomID, "name": req.Name}, protocol.PriorityNormal))
}

func (s *Server) handleJoinRoom(ctx context.Context, c *Connection, msg *protocol.Message) {
	user, ok := s.requireAuth(c)
	if !ok {
		return
	}

	var req protocol.JoinRoom
	if err := msg.Bind(&req); err != nil {
		s.sendError(c, "Malformed join_room request")
		return
	}

	// A connection holds one room at a time; joining a new one leaves the old.
	if prev := c.Room(); prev != "" && prev != req.RoomID {
		s.leaveCurrentRoom(ctx, c, user.Username)
	}

	if !s.rooms.Join(req.RoomID, user.Username) {
		s.sendError(c, "Failed to join room")
		return
	}
	c.setRoom(req.RoomID)

	s.broadcastToRoom(req.RoomID, protocol.New(protocol.KindUserList,
		protocol.UserListEvent{Action: "join", Username: user.Username},
		protocol.PriorityNormal).WithRoom(req.RoomID), c.id)

	logging.Info(logging.WithRoom(logging.WithUsername(ctx, user.Username), req.RoomID), "User joined room")
	s.reply(c, protocol.New(protocol.KindSuccess,
		map[string]any{"room_id": req.RoomID}, protocol.PriorityNormal))
}

func (s *Server) handleLeaveRoom(ctx context.Context, c *Connection) {
	user, ok := s.requireAuth(c)
	if !ok {
		return
	}
	roomID := c.Room()
	if roomID == "" {
		s.sendError(c, "Not in a room")
		return
	}

	s.leaveCurrentRoom(ctx, c, user.Username)
	s.reply(c, protocol.New(protocol.KindSuccess,
		map[string]any{"room_id": roomID}, protocol.PriorityNormal))
}

// leaveCurrentRoom removes the user from the connection's current room,
// notifies the remaining members, and clears current_room.
func (s *Server) leaveCurrentRoom(ctx context.Context, c *Connection, username string) {
	roomID := c.Room()
	if roomID == "" {
		return
	}

	s.rooms.Leave(roomID, username)
	metrics.ActiveRooms.Set(float64(len(s.rooms.List())))
	c.setRoom("")

	s.broadcastToRoom(roomID, protocol.New(protocol.KindUserList,
		protocol.UserListEvent{Action: "leave", Username: username},
		protocol.PriorityNormal).WithRoom(roomID), c.id)

	logging.Info(logging.WithRoom(logging.WithUsername(ctx, username), roomID), "User left room")
}

func (s *Server) handleListRooms(c *Connection) {
	summaries := s.rooms.List()
	out := make([]protocol.RoomSummary, 0, len(summaries))
	for _, r := range summaries {
		out = append(out, protocol.RoomSummary{
			ID:        r.ID,
			Name:      r.Name,
			UserCount: r.UserCount,
			Created:   r.Created,
		})
	}
	s.reply(c, protocol.New(protocol.KindRoomInfo,
		protocol.RoomInfo{Rooms: out}, protocol.PriorityNormal))
}

func (s *Server) handleUserList(c *Connection) {
	if _, ok := s.requireAuth(c); !ok {
		return
	}
	roomID := c.Room()
	if roomID == "" {
		return
	}
	members := s.rooms.Members(roomID)
	if members == nil {
		members = []string{}
	}
	s.reply(c, protocol.New(protocol.KindUserList,
		protocol.UserListReply{Users: members}, protocol.PriorityNormal))
}

func (s *Server) handleTextMessage(ctx context.Context, c *Connection, msg *protocol.Message) {
	user, ok := s.requireAuth(c)
	if !ok {
		return
	}
	roomID := c.Room()
	if roomID == "" {
		s.sendError(c, "Not in a room")
		return
	}

	var req protocol.TextMessage
	if err := msg.Bind(&req); err != nil {
		s.sendError(c, "Malformed text message")
		return
	}

	s.rooms.RecordMessage(roomID)
	s.broadcastToRoom(roomID, protocol.New(protocol.KindTextMessage,
		protocol.TextMessage{
			Username:  user.Username,
			Text:      req.Text,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		}, protocol.PriorityNormal).WithRoom(roomID), c.id)
}

func (s *Server) handleFileTransfer(ctx context.Context, c *Connection, msg *protocol.Message) {
	user, ok := s.requireAuth(c)
	if !ok {
		return
	}
	roomID := c.Room()
	if roomID == "" {
		s.sendError(c, "Not in a room")
		return
	}

	var chunk protocol.FileChunk
	if err := msg.Bind(&chunk); err != nil {
		s.sendError(c, "Malformed file transfer")
		return
	}

	logging.Info(logging.WithRoom(logging.WithUsername(ctx, user.Username), roomID),
		"Relaying file chunk",
		zap.String("transfer_id", chunk.TransferID),
		zap.String("filename", chunk.Filename),
		zap.Int("chunk_num", chunk.ChunkNum),
		zap.Int("total_chunks", chunk.TotalChunks))

	// Chunks relay opaquely at LOW priority so text and control traffic
	// schedule ahead of bulk transfer.
	s.rooms.RecordMessage(roomID)
	s.broadcastToRoom(roomID, protocol.New(protocol.KindFileChunk,
		chunk, protocol.PriorityLow).WithRoom(roomID), c.id)
}

func (s *Server) handleHeartbeat(c *Connection) {
	c.Touch()
	s.reply(c, protocol.New(protocol.KindHeartbeat, nil, protocol.PriorityNormal))
}

func (s *Server) handleServerInfo(c *Connection) {
	stats := s.monitor.Snapshot()
	s.reply(c, protocol.New(protocol.KindServerInfo, stats, protocol.PriorityNormal))
}
