package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the wire discriminant carried in a message's "type" field.
type Kind string

// Message kinds understood by the server and clients.
const (
	// Authentication
	KindAuthRequest      Kind = "auth_request"
	KindAuthResponse     Kind = "auth_response"
	KindRegisterRequest  Kind = "register_request"
	KindRegisterResponse Kind = "register_response"

	// Room management
	KindCreateRoom Kind = "create_room"
	KindJoinRoom   Kind = "join_room"
	KindLeaveRoom  Kind = "leave_room"
	KindListRooms  Kind = "list_rooms"
	KindRoomInfo   Kind = "room_info"

	// Messaging
	KindTextMessage  Kind = "text_message"
	KindFileTransfer Kind = "file_transfer"
	KindFileChunk    Kind = "file_chunk"

	// System
	KindUserList   Kind = "user_list"
	KindServerInfo Kind = "server_info"
	KindHeartbeat  Kind = "heartbeat"
	KindError      Kind = "error"
	KindSuccess    Kind = "success"
)

var knownKinds = map[Kind]struct{}{
	KindAuthRequest:      {},
	KindAuthResponse:     {},
	KindRegisterRequest:  {},
	KindRegisterResponse: {},
	KindCreateRoom:       {},
	KindJoinRoom:         {},
	KindLeaveRoom:        {},
	KindListRooms:        {},
	KindRoomInfo:         {},
	KindTextMessage:      {},
	KindFileTransfer:     {},
	KindFileChunk:        {},
	KindUserList:         {},
	KindServerInfo:       {},
	KindHeartbeat:        {},
	KindError:            {},
	KindSuccess:          {},
}

// Valid reports whether k is one of the enumerated message kinds.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// Priority is the QoS class attached to each message.
// Higher values are scheduled first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// Valid reports whether p is within the enumerated range.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Message is the wire unit exchanged between client and server.
//
// The payload shape of Data is determined by Type; use Bind to decode it
// into one of the typed payload records below.
type Message struct {
	ID        float64        `json:"id"`
	Type      Kind           `json:"type"`
	Data      map[string]any `json:"data"`
	Priority  Priority       `json:"priority"`
	RoomID    *string        `json:"room_id"`
	Timestamp string         `json:"timestamp"`
}

// New builds a Message of the given kind with a timestamp-derived id,
// matching the identifiers clients generate. data may be nil, a
// map[string]any, or any struct with json tags.
func New(kind Kind, data any, priority Priority) *Message {
	now := time.Now()
	return &Message{
		ID:        float64(now.UnixNano()) / float64(time.Second),
		Type:      kind,
		Data:      toMap(data),
		Priority:  priority,
		Timestamp: now.Format(time.RFC3339Nano),
	}
}

// WithRoom sets the optional room id and returns the message for chaining.
func (m *Message) WithRoom(roomID string) *Message {
	m.RoomID = &roomID
	return m
}

// Bind decodes the free-form Data payload into a typed record.
func (m *Message) Bind(v any) error {
	raw, err := json.Marshal(m.Data)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

func toMap(data any) map[string]any {
	switch d := data.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return d
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return map[string]any{}
		}
		out := map[string]any{}
		if err := json.Unmarshal(raw, &out); err != nil {
			return map[string]any{}
		}
		return out
	}
}

// --- Typed payload records ---

// AuthRequest is the payload of an auth_request message.
type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse is the payload of an auth_response message.
type AuthResponse struct {
	Success  bool   `json:"success"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Error    string `json:"error,omitempty"`
}

// RegisterRequest is the payload of a register_request message.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterResponse is the payload of a register_response message.
type RegisterResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateRoom is the payload of a create_room message.
type CreateRoom struct {
	Name string `json:"name"`
}

// JoinRoom is the payload of a join_room message.
type JoinRoom struct {
	RoomID string `json:"room_id"`
}

// TextMessage is the payload of a text_message message. Username and
// Timestamp are set by the server on fan-out; clients send only Text.
type TextMessage struct {
	Username  string `json:"username,omitempty"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
}

// FileChunk is the payload of file_transfer (client to server) and
// file_chunk (server fan-out) messages. Data is standard base64.
type FileChunk struct {
	TransferID  string `json:"transfer_id"`
	Filename    string `json:"filename"`
	ChunkNum    int    `json:"chunk_num"`
	TotalChunks int    `json:"total_chunks"`
	Data        string `json:"data"`
}

// UserListEvent is the payload of a user_list membership event.
type UserListEvent struct {
	Action   string `json:"action"`
	Username string `json:"username"`
}

// UserListReply is the payload of a user_list reply to a request.
type UserListReply struct {
	Users []string `json:"users"`
}

// RoomSummary describes one room in a room_info reply.
type RoomSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UserCount int    `json:"user_count"`
	Created   string `json:"created"`
}

// RoomInfo is the payload of a room_info message.
type RoomInfo struct {
	Rooms []RoomSummary `json:"rooms"`
}

// ErrorPayload is the payload of an error message.
type ErrorPayload struct {
	Error string `json:"error"`
}
