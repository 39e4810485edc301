package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInitialize(t *testing.T) {
	require.NoError(t, Initialize(true))
	assert.NotNil(t, GetLogger())

	// Repeated initialization is a no-op.
	require.NoError(t, Initialize(false))
}

func TestGetLogger_BeforeInitialize(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestContextHelpers(t *testing.T) {
	ctx := WithRoom(WithUsername(WithConnection(context.Background(), "c-1"), "alice"), "r-1")

	assert.Equal(t, "c-1", ctx.Value(ConnectionIDKey))
	assert.Equal(t, "alice", ctx.Value(UsernameKey))
	assert.Equal(t, "r-1", ctx.Value(RoomIDKey))
}

func TestAppendContextFields(t *testing.T) {
	ctx := WithUsername(WithConnection(context.Background(), "c-1"), "alice")

	fields := appendContextFields(ctx, []zap.Field{zap.String("extra", "x")})

	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Key)
	}
	assert.Equal(t, []string{"extra", "connection_id", "username", "service"}, names)
}

func TestAppendContextFields_NilContext(t *testing.T) {
	fields := appendContextFields(nil, nil)
	assert.Empty(t, fields)
}

func TestRedactSecret(t *testing.T) {
	assert.Equal(t, "***", RedactSecret("short"))
	assert.Equal(t, "0123***", RedactSecret("0123456789abcdef"))
}
