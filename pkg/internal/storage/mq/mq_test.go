package mq_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeisme/panvault/pkg/configs"
	"github.com/yeisme/panvault/pkg/internal/storage/mq"
	"github.com/yeisme/panvault/pkg/queue"
)

func newGoChannelClient(t *testing.T) *mq.Client {
	t.Helper()

	client, err := mq.New(context.Background(), configs.MQConfig{
		Type:          configs.MQTypeGoChannel,
		ConsumerGroup: "test",
		GoChannel:     configs.MQGoChannel{OutputBuffer: 16},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestNew_Unsupported(t *testing.T) {
	_, err := mq.New(context.Background(), configs.MQConfig{Type: "kafka"})
	require.Error(t, err)
}

func TestRegisteredTypes(t *testing.T) {
	assert.ElementsMatch(t,
		[]configs.MQType{configs.MQTypeGoChannel, configs.MQTypeNATS, configs.MQTypeRedis},
		mq.RegisteredTypes())
}

// TestClient_HandleRetries 处理函数失败后由 Retry 中间件重试.
func TestClient_HandleRetries(t *testing.T) {
	client := newGoChannelClient(t)

	var attempts atomic.Int32

	done := make(chan queue.FinalizeResultPayload, 1)

	client.Handle("result", queue.TopicFinalizeSucceeded, func(msg *message.Message) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}

		env, err := queue.ParseFinalizeResult(msg)
		if err != nil {
			return err
		}

		done <- env.Payload

		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = client.Run(ctx) }()
	<-client.Running()

	require.NoError(t, queue.PublishFinalizeResult(client.Publisher(), queue.FinalizeResultPayload{UserID: "u", FileID: "f"}))

	select {
	case p := <-done:
		assert.Equal(t, "f", p.FileID)
		assert.EqualValues(t, 2, attempts.Load())
	case <-time.After(5 * time.Second):
		t.Fatal("handler not invoked")
	}
}
