package logging

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLogger(t *testing.T) {
	newCaptured := func() (*DefaultLogger, *bytes.Buffer, *bytes.Buffer) {
		var out, errOut bytes.Buffer
		return NewDefaultLoggerWithWriters(&out, &errOut, false), &out, &errOut
	}

	t.Run("routes levels to the right writer", func(t *testing.T) {
		logger, out, errOut := newCaptured()

		logger.Info("indexed")
		logger.Warn("skipped")
		logger.Error(errors.New("boom"), "failed")

		assert.Contains(t, out.String(), "[INFO] indexed")
		assert.Contains(t, errOut.String(), "[WARN] skipped")
		assert.Contains(t, errOut.String(), "[ERROR] failed: boom")
	})

	t.Run("renders fields sorted", func(t *testing.T) {
		logger, out, _ := newCaptured()

		logger.WithFields(Fields{"zebra": 1, "alpha": 2}).Info("msg")

		line := out.String()
		assert.Contains(t, line, "alpha=2 zebra=1")
	})

	t.Run("respects the minimum level", func(t *testing.T) {
		logger, out, _ := newCaptured()

		logger.Debug("hidden")
		assert.Empty(t, out.String())

		logger.SetLevel(DebugLevel)
		logger.Debug("visible")
		assert.Contains(t, out.String(), "[DEBUG] visible")
	})

	t.Run("with fields does not mutate the parent", func(t *testing.T) {
		logger, out, _ := newCaptured()

		logger.WithFields(Fields{"component": "a"})
		logger.Info("msg")

		assert.NotContains(t, out.String(), "component")
	})

	t.Run("call-site fields override preset fields", func(t *testing.T) {
		logger, out, _ := newCaptured()

		logger.WithFields(Fields{"song": "old"}).Info("msg", Fields{"song": "new"})

		assert.Contains(t, out.String(), "song=new")
	})

	t.Run("with context picks up attached fields", func(t *testing.T) {
		logger, out, _ := newCaptured()

		ctx := ContextWithFields(context.Background(), Fields{"request_id": "r-1"})
		logger.WithContext(ctx).Info("msg")

		assert.Contains(t, out.String(), "request_id=r-1")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, InfoLevel, ParseLevel(""))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
}
