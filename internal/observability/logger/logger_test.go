package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestCoreNeverSamplesWarnings(t *testing.T) {
	var buf bytes.Buffer
	core := newCore(Config{SamplingWindow: time.Minute}, zapcore.AddSync(&buf), zapcore.InfoLevel)
	log := zap.New(core)

	for i := 0; i < 300; i++ {
		log.Info("drain pass")
		log.Warn("outbox replay failed")
	}
	_ = log.Sync()

	out := buf.String()
	assert.Equal(t, 102, strings.Count(out, `"drain pass"`))
	assert.Equal(t, 300, strings.Count(out, `"outbox replay failed"`))
}

func TestCoreRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := zap.New(newCore(Config{Format: "console"}, zapcore.AddSync(&buf), zapcore.WarnLevel))

	log.Info("hidden")
	log.Error("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
