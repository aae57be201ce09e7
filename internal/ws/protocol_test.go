package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"payload":"x"}`))
	assert.ErrorIs(t, err, ErrBadFrame)

	_, err = DecodeEnvelope([]byte(`[`))
	assert.ErrorIs(t, err, ErrBadFrame)

	env, err := DecodeEnvelope([]byte(`{"type":"register_user","payload":"u1"}`))
	require.NoError(t, err)
	userID, err := env.RegisterPayload()
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestNotificationPayloadAcceptsBothSpellings(t *testing.T) {
	for _, frame := range []string{
		`{"type":"notification","payload":{"eventType":"task_created","data":{"uid":"u1"},"timestamp":"2025-01-01T00:00:00Z"}}`,
		`{"type":"notification","payload":{"event_type":"task_created","data":{"uid":"u1"},"timestamp":"2025-01-01T00:00:00Z"}}`,
	} {
		env, err := DecodeEnvelope([]byte(frame))
		require.NoError(t, err)
		n, err := env.NotificationPayload()
		require.NoError(t, err)
		assert.Equal(t, "task_created", n.EventType)
		assert.Equal(t, "u1", n.Data["uid"])
	}
}

func TestEncodeError(t *testing.T) {
	env, err := DecodeEnvelope(EncodeError(`bad "frame"`))
	require.NoError(t, err)
	assert.Equal(t, MsgError, env.Type)
	assert.JSONEq(t, `"bad \"frame\""`, string(env.Payload))
}
