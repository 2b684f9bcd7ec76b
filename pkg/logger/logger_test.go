package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	key     string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic, p.key = topic, string(key)
	p.batches = append(p.batches, value.([]AggregatedLogEntry))
	return nil
}

func TestLogger_WithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf).Component("monitor").With(Market("Japan"))

	l.Info("armed", Duration("in", 1500*time.Millisecond), Float64("score", 40))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "monitor", entry["component"])
	assert.Equal(t, "Japan", entry["market"])
	assert.Equal(t, "armed", entry["message"])
	assert.EqualValues(t, 1500, entry["in"])
	assert.EqualValues(t, 40, entry["score"])
}

func TestCollector_AggregatesRepeatedErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := NewWriter(&bytes.Buffer{})
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Source: "marketpulse", Publisher: pub})
	child := l.Component("monitor")

	for i := 0; i < 3; i++ {
		child.Error("persist failed", Error(errors.New("redis down")))
	}
	child.Warn("not collected")
	l.RemoveCollector()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0], 1)
	got := pub.batches[0][0]
	assert.Equal(t, 3, got.Count)
	assert.Equal(t, "error", got.Level)
	assert.Equal(t, "monitor", got.Fields["component"])
	assert.Equal(t, "redis down", got.Fields["error"])
	assert.Equal(t, "logs", pub.topic)
	assert.Equal(t, "marketpulse", pub.key)
}
