package logging

import (
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatter_Format(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   log.WarnLevel,
		Message: "health check failed\n",
		Data:    log.Fields{"status": 503, "component": "monitor"},
	}

	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)

	assert.Equal(t, "[2026-01-02 15:04:05] [warn ] health check failed | component=monitor, status=503\n", string(out))
}

func TestFormatter_NoFields(t *testing.T) {
	entry := &log.Entry{
		Time:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   log.InfoLevel,
		Message: "ready",
		Data:    log.Fields{},
	}

	out, err := (&Formatter{}).Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "[2026-01-02 15:04:05] [info ] ready\n", string(out))
}

func TestConfigure(t *testing.T) {
	defer func() {
		Close()
		log.SetLevel(log.InfoLevel)
	}()

	require.NoError(t, Configure("debug", filepath.Join(t.TempDir(), "logs", "autoheal.log")))
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	assert.Error(t, Configure("loud", ""))
}
