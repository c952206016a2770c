package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewInMemory(4)

	require.NoError(t, q.Publish(ctx, Message{Type: "audit", Body: []byte(`{"a":1}`)}))
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "audit", msg.Type)
		assert.JSONEq(t, `{"a":1}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	for range msgs {
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "y"}), context.DeadlineExceeded)
}

func TestInMemoryCloseDeliversBuffered(t *testing.T) {
	q := NewInMemory(4)
	ctx := context.Background()
	for _, typ := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, Message{Type: typ}))
	}
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Publish(ctx, Message{Type: "late"}), ErrClosed)

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	var got []string
	for msg := range msgs {
		got = append(got, msg.Type)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	raw, err := encode(Message{Type: "audit", Body: []byte(`{"message":"a|b"}`)})
	require.NoError(t, err)

	msg, err := decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "audit", msg.Type)
	assert.JSONEq(t, `{"message":"a|b"}`, string(msg.Body))
}

func TestEnvelopeRejectsMalformed(t *testing.T) {
	_, err := encode(Message{Body: []byte(`{}`)})
	assert.Error(t, err)

	_, err = decode("audit|{}")
	assert.Error(t, err)

	_, err = decode(`{"body":{}}`)
	assert.Error(t, err)
}

func TestEncodeInvalidBody(t *testing.T) {
	_, err := encode(Message{Type: "audit", Body: []byte("not json")})
	assert.Error(t, err)
}
