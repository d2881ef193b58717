package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysBySource(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.Publish(context.Background(), SourceCompleted{SourceID: 42, Status: "succeeded", Records: 3}))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "42", string(w.msgs[0].Key))

	var ev SourceCompleted
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	require.Equal(t, TypeSourceCompleted, ev.Type)
	require.Equal(t, 3, ev.Records)
	require.False(t, ev.At.IsZero())
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	cause := errors.New("broker down")
	p := &KafkaPublisher{writer: &captureWriter{err: cause}}
	err := p.Publish(context.Background(), SourceCompleted{SourceID: 1})
	require.ErrorIs(t, err, cause)
}

func TestKafkaPublisherClose(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaPublisher{writer: w}
	require.NoError(t, p.Close())
	require.True(t, w.closed)
	require.NoError(t, p.Close())
	require.Error(t, p.Publish(context.Background(), SourceCompleted{SourceID: 1}))
}

func TestNewWithoutBrokersIsNop(t *testing.T) {
	p := New(nil, "topic")
	require.IsType(t, Nop{}, p)
	require.NoError(t, p.Publish(context.Background(), SourceCompleted{}))
}
