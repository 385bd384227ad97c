package invalidation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	users []int64
}

func (r *recordingReceiver) InvalidateLocal(userID int64) {
	r.users = append(r.users, userID)
}

func TestCodecSuppressesOwnEcho(t *testing.T) {
	t.Parallel()

	local := newCodec("test")
	remote := newCodec("test")
	require.NotEqual(t, local.origin, remote.origin)

	payload, err := local.encode(42)
	require.NoError(t, err)

	recv := &recordingReceiver{}
	assert.False(t, local.handle(payload, recv))
	assert.Empty(t, recv.users)

	assert.True(t, remote.handle(payload, recv))
	assert.Equal(t, []int64{42}, recv.users)
}

func TestCodecPayloadShape(t *testing.T) {
	t.Parallel()

	c := newCodec("test")
	payload, err := c.encode(7)
	require.NoError(t, err)

	var notice Notice
	require.NoError(t, json.Unmarshal(payload, &notice))
	assert.EqualValues(t, 7, notice.UserID)
	assert.Equal(t, c.origin, notice.Origin)

	_, err = c.encode(0)
	assert.Error(t, err)
}

func TestCodecRejectsMalformed(t *testing.T) {
	t.Parallel()

	c := newCodec("test")
	recv := &recordingReceiver{}
	assert.False(t, c.handle([]byte("not json"), recv))
	assert.False(t, c.handle([]byte(`{"origin":"x"}`), recv))
	assert.Empty(t, recv.users)
}

func TestNewDrivers(t *testing.T) {
	t.Parallel()

	bus, err := New(Config{})
	require.NoError(t, err)
	assert.Nil(t, bus)

	bus, err = New(Config{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, bus)

	_, err = New(Config{Driver: "kafka"})
	assert.Error(t, err)

	_, err = New(Config{Driver: "redis"})
	assert.Error(t, err, "missing address must fail before dialing")

	_, err = New(Config{Driver: "rabbitmq"})
	assert.Error(t, err, "missing url must fail before dialing")
}
