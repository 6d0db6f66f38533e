package queue

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessage_SettleFunctions(t *testing.T) {
	var acked, requeued bool
	msg := NewMessage([]byte("payload"),
		func() error { acked = true; return nil },
		func() error { requeued = true; return nil })

	require.Equal(t, []byte("payload"), msg.Body)
	require.NoError(t, msg.Ack())
	require.True(t, acked)
	require.NoError(t, msg.Requeue())
	require.True(t, requeued)
}

func TestMessage_NilSettleFunctions(t *testing.T) {
	// A broker without a requeue operation leaves it nil; settling must
	// still be safe to call.
	msg := NewMessage(nil, nil, nil)
	require.NoError(t, msg.Ack())
	require.NoError(t, msg.Requeue())
}

func TestMessage_SettleErrorPropagates(t *testing.T) {
	boom := errors.New("channel closed")
	msg := NewMessage(nil, func() error { return boom }, nil)
	require.ErrorIs(t, msg.Ack(), boom)
}
