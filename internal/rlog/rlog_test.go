package rlog_test

import (
	"testing"

	"github.com/momentics/hioreactor/internal/rlog"
	"github.com/stretchr/testify/require"
)

func TestNop_DoesNotPanic(t *testing.T) {
	log := rlog.Nop()
	log.Info("hello", rlog.String("k", "v"))
	log.With(rlog.Int("fd", 4)).Warn("warned")
	require.NoError(t, log.Sync())
}

func TestNew_DefaultOptions(t *testing.T) {
	log, err := rlog.New(rlog.DefaultOptions())
	require.NoError(t, err)
	require.NotNil(t, log)
	log.Debug("below default level, should be filtered")
	log.Info("at default level")
}
