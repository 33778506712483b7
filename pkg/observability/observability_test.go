package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "certkernel", config.ServiceName)
	require.Equal(t, "localhost:4317", config.OTLPEndpoint)
	require.False(t, config.Enabled)
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestTrackStage(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, finish := p.TrackStage(context.Background(), "classify",
		attribute.String("run.id", "run-1"))
	require.NotNil(t, ctx)

	time.Sleep(time.Millisecond)
	finish(nil)
}

func TestTrackStageWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackStage(context.Background(), "anchor")
	finish(errors.New("receipt timeout"))
}

func TestRecordErrorDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	p.RecordError(context.Background(), errors.New("boom"))
}

func TestShutdownDisabled(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestClassifyAttrs(t *testing.T) {
	attrs := ClassifyAttrs("FarmA", "REJECTED", 2)
	require.Len(t, attrs, 3)
	require.Equal(t, "certkernel.entity.id", string(attrs[0].Key))
	require.Equal(t, "FarmA", attrs[0].Value.AsString())
	require.Equal(t, int64(2), attrs[2].Value.AsInt64())
}

func TestAnchorAttrs(t *testing.T) {
	attrs := AnchorAttrs("FarmB", "0xabc", 12)
	require.Len(t, attrs, 3)
	require.Equal(t, "0xabc", attrs[1].Value.AsString())
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug")
	logger.Debug("hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "v", line["k"])
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "error")
	logger.Info("dropped")
	require.Zero(t, buf.Len())

	logger.Error("kept")
	require.NotZero(t, buf.Len())
}

func TestNewLoggerUnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "verbose")
	logger.Debug("dropped")
	require.Zero(t, buf.Len())

	logger.Info("kept")
	require.NotZero(t, buf.Len())
}
