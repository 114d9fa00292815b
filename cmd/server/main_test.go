package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dharsanguruparan/lockdrop/internal/config"
)

func TestRun_ReturnsInitErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cfg := &config.Config{
		Catalog:    "memory",
		Storage:    "fs",
		UploadDir:  t.TempDir(),
		ScratchDir: t.TempDir(),
		JWTSecret:  []byte("x"),
		MasterKey:  []byte("too short"),
	}

	err := run(context.Background(), cfg, zap.New(core))
	require.ErrorContains(t, err, "init")
	require.Zero(t, logs.FilterLevelExact(zap.FatalLevel).Len())
}
