package core

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/researchd/researchd/internals/assert"
	"github.com/researchd/researchd/internals/conf"
	"github.com/researchd/researchd/internals/env"
	"github.com/researchd/researchd/internals/store"
)

type BaseServer struct {
	Config  *conf.Config
	Env     *env.EnvStruct
	Logger  *slog.Logger
	LogFile *os.File
	Store   *store.Store
}

func New() *BaseServer {
	env := env.Get()
	config := conf.GetConfig()
	dataDir := config.Server.DataDir
	if dataDir != "" {
		dataDir = filepath.Clean(dataDir)
		config.Server.DataDir = dataDir
	}

	logger, logFile := InitLogger(config)

	s, err := InitStore(config)
	assert.AssertNil(err, "[CORE] Failed to initialize store")

	return &BaseServer{
		Config:  config,
		Env:     env,
		Logger:  logger,
		LogFile: logFile,
		Store:   s,
	}
}

func InitStore(config *conf.Config) (*store.Store, error) {
	dbPath := filepath.Join(config.Server.DataDir, "researchd.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	return store.Open(dbPath)
}

// Close releases the base resources. Safe to call once at shutdown.
func (b *BaseServer) Close() {
	if b.Store != nil {
		if err := b.Store.Close(); err != nil {
			b.Logger.Error("failed to close store", "error", err)
		}
	}
	if b.LogFile != nil {
		_ = b.LogFile.Close()
	}
}
