package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payloadForKind returns a representative payload for every message kind,
// so round-trip coverage spans the whole enumeration.
func payloadForKind(k Kind) any {
	switch k {
	case KindAuthRequest:
		return AuthRequest{Username: "alice", Password: "pw"}
	case KindAuthResponse:
		return AuthResponse{Success: true, UserID: "u-1", Username: "alice"}
	case KindRegisterRequest:
		return RegisterRequest{Username: "bob", Password: "secret"}
	case KindRegisterResponse:
		return RegisterResponse{Success: false, Error: "Username already exists"}
	case KindCreateRoom:
		return CreateRoom{Name: "general"}
	case KindJoinRoom:
		return JoinRoom{RoomID: "room-1"}
	case KindLeaveRoom, KindListRooms, KindHeartbeat:
		return nil
	case KindRoomInfo:
		return RoomInfo{Rooms: []RoomSummary{{ID: "r1", Name: "general", UserCount: 2, Created: "2026-01-01T00:00:00Z"}}}
	case KindTextMessage:
		return TextMessage{Username: "alice", Text: "hi", Timestamp: "2026-01-01T00:00:00Z"}
	case KindFileTransfer, KindFileChunk:
		return FileChunk{TransferID: "t1", Filename: "a.txt", ChunkNum: 1, TotalChunks: 3, Data: "aGVsbG8="}
	case KindUserList:
		return UserListEvent{Action: "join", Username: "bob"}
	case KindServerInfo:
		return map[string]any{"uptime_seconds": 1.5}
	case KindError:
		return ErrorPayload{Error: "Not in a room"}
	case KindSuccess:
		return map[string]any{"room_id": "r1"}
	default:
		return nil
	}
}

func TestRoundTrip_AllKinds(t *testing.T) {
	for kind := range knownKinds {
		t.Run(string(kind), func(t *testing.T) {
			in := New(kind, payloadForKind(kind), PriorityHigh).WithRoom("room-42")

			var buf bytes.Buffer
			require.NoError(t, WriteMessage(&buf, in))

			out, err := ReadMessage(&buf)
			require.NoError(t, err)

			assert.Equal(t, in.ID, out.ID)
			assert.Equal(t, in.Type, out.Type)
			assert.Equal(t, in.Priority, out.Priority)
			require.NotNil(t, out.RoomID)
			assert.Equal(t, "room-42", *out.RoomID)
			assert.Equal(t, in.Timestamp, out.Timestamp)

			// Data survives as the JSON object form of the payload.
			reencoded := New(kind, out.Data, PriorityHigh)
			assert.Equal(t, in.Data, reencoded.Data)
		})
	}
}

func TestRoundTrip_NullRoom(t *testing.T) {
	in := New(KindHeartbeat, nil, PriorityCritical)

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, in))

	out, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Nil(t, out.RoomID)
	assert.NotNil(t, out.Data)
}

func TestFrameLayout(t *testing.T) {
	frame, err := Encode(New(KindHeartbeat, nil, PriorityNormal))
	require.NoError(t, err)
	require.Greater(t, len(frame), 4)

	length := binary.BigEndian.Uint32(frame[:4])
	assert.Equal(t, int(length), len(frame)-4)
	assert.Contains(t, string(frame[4:]), `"type":"heartbeat"`)
}

func TestReadMessage_CleanEOF(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestReadMessage_TruncatedHeader(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader([]byte{0x00, 0x01}))
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestReadMessage_TruncatedBody(t *testing.T) {
	frame, err := Encode(New(KindHeartbeat, nil, PriorityNormal))
	require.NoError(t, err)

	_, err = ReadMessage(bytes.NewReader(frame[:len(frame)-3]))
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestReadMessage_OversizedFrame(t *testing.T) {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], MaxFrameSize+1)

	_, err := ReadMessage(bytes.NewReader(header[:]))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadMessage_UnknownKind(t *testing.T) {
	body := []byte(`{"id":1,"type":"bogus","data":{},"priority":2,"room_id":null,"timestamp":"t"}`)
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	buf.Write(header[:])
	buf.Write(body)

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestReadMessage_PriorityOutOfRange(t *testing.T) {
	body := []byte(`{"id":1,"type":"heartbeat","data":{},"priority":9,"room_id":null,"timestamp":"t"}`)
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	buf.Write(header[:])
	buf.Write(body)

	_, err := ReadMessage(&buf)
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestReadMessage_SequentialFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, New(KindListRooms, nil, PriorityNormal)))
	require.NoError(t, WriteMessage(&buf, New(KindHeartbeat, nil, PriorityHigh)))

	first, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindListRooms, first.Type)

	second, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, second.Type)

	_, err = ReadMessage(&buf)
	assert.Equal(t, io.EOF, err)
}
