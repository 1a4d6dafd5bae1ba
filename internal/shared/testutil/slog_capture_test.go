package testutil

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCaptureHandler(t *testing.T) {
	logger, h := NewTestLogger(t)

	logger.Info("crunched analysis", "uid", "A03")
	logger.Warn("ratio mismatch", "mass", 45)
	logger.Debug("details")

	assert.Equal(t, 3, len(h.Records()))
	assert.Len(t, h.RecordsAtLevel(slog.LevelWarn), 1)
	assert.True(t, h.ContainsMessage("crunched"))
	assert.False(t, h.ContainsMessage("standardized"))
	assert.True(t, h.ContainsAttr("uid", "A03"))
	assert.False(t, h.ContainsAttr("uid", "A04"))
	AssertNoErrors(t, h)
}
