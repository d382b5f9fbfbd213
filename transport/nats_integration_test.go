//go:build integration

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semtrust/natsclient"
)

func TestNATSLog_EndToEnd(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx := context.Background()
	log := NewNATSLog(tc.Client, WithFetchWait(200*time.Millisecond))

	author, err := CreateStream(ctx, log, newIdentity(t), BaseTopic)
	require.NoError(t, err)

	sub := NewSubscriber(log, newIdentity(t))
	require.NoError(t, sub.Join(ctx, author.StreamAddress()))

	subAddr, err := sub.SendSubscription(ctx, "Flow_Sensor_1")
	require.NoError(t, err)
	_, err = author.AcceptSubscription(ctx, subAddr, sub.PublicKey(), "Flow_Sensor_1")
	require.NoError(t, err)

	first, err := author.Publish(ctx, "Flow_Sensor_1", []byte(`{"id":"a"}`), true)
	require.NoError(t, err)
	_, err = author.Publish(ctx, "Flow_Sensor_1", []byte(`{"id":"b"}`), true)
	require.NoError(t, err)

	msg, err := sub.ReceiveNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, first, msg.Address)
	assert.True(t, msg.Signed)

	blob, err := sub.Backup(ctx, "pw")
	require.NoError(t, err)

	// a fresh log has no cached consumer and must start from the cursor
	restored, err := Restore(NewNATSLog(tc.Client, WithFetchWait(200*time.Millisecond)), blob, "pw")
	require.NoError(t, err)

	msg, err = restored.ReceiveNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, `{"id":"b"}`, string(msg.Payload))

	msg, err = restored.ReceiveNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, msg)
}
