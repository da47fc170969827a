package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewCollectorClampsInterval(t *testing.T) {
	c := NewCollector(10*time.Millisecond, zap.NewNop())
	assert.Equal(t, 30*time.Second, c.interval)

	c = NewCollector(2*time.Second, zap.NewNop())
	assert.Equal(t, 2*time.Second, c.interval)
}

func TestCollectTagsStage(t *testing.T) {
	c := NewCollector(time.Second, zap.NewNop())
	assert.Nil(t, c.Last())

	c.SetStage("extract")
	s := c.Collect()
	require.NotNil(t, s)
	assert.Equal(t, "extract", s.Stage)
	assert.Same(t, s, c.Last())
	assert.GreaterOrEqual(t, c.PeakRSSMB(), s.ProcRSSMB)

	c.SetStage("aggregate")
	assert.Equal(t, "aggregate", c.Collect().Stage)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := NewCollector(time.Second, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
	assert.NotNil(t, c.Last())
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "0.0", formatFloat(0))
	assert.Equal(t, "0.0", formatFloat(-3))
	assert.Equal(t, "1.5", formatFloat(1.5))
	assert.Equal(t, "12.3", formatFloat(12.34))
	assert.Equal(t, 12.3, round1(12.34))
}
