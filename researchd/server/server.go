package server

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/researchd/researchd/internals/agent"
	"github.com/researchd/researchd/internals/assert"
	"github.com/researchd/researchd/internals/events"
	"github.com/researchd/researchd/internals/logbuf"
	"github.com/researchd/researchd/internals/tasks"
	"github.com/researchd/researchd/internals/timeouts"
	"github.com/researchd/researchd/researchd/core"
	"github.com/researchd/researchd/sdk"
)

type Server struct {
	Base       *core.BaseServer
	Logbuf     *logbuf.Logger
	manager    *tasks.Manager
	worker     agent.Worker
	httpServer *http.Server
}

func New() *Server {
	base := core.New()

	model := base.Env.MODEL
	if model == "" {
		model = base.Config.Agent.Model
	}
	worker := agent.NewCLIWorker(base.Config.Agent.Binary, model, base.Config.Output.Dir, base.Logger)
	return NewWithWorker(base, worker)
}

// NewWithWorker wires the server around an explicit worker, the seam
// tests use to avoid spawning the real agent binary.
func NewWithWorker(base *core.BaseServer, worker agent.Worker) *Server {
	err := os.MkdirAll(base.Config.Output.Dir, 0o755)
	assert.AssertNil(err, "[SERVER] Failed to create output directory")

	buffer := logbuf.New(
		slog.String("version", base.Config.Version),
		slog.Int("port", base.Env.PORT),
	)
	registry := events.NewRegistry()
	manager := tasks.NewManager(base.Store, registry, worker, base.Config.Output.Dir, base.Logger)

	return &Server{
		Base:    base,
		Logbuf:  buffer,
		manager: manager,
		worker:  worker,
	}
}

// SafeStart starts the server unless another instance already answers
// on the configured port.
func (s *Server) SafeStart() error {
	if sdk.IsRunning(s.Base.Env.BASE_URL) {
		return nil
	}

	go func() {
		s.Base.Logger.Info("starting server")
		err := s.Start()
		if err != nil {
			log.Fatal("[Researchd] Failed to start server: " + err.Error())
		}
	}()

	if sdk.WaitForStart(s.Base.Env.BASE_URL, s.Base.Logger) {
		return nil
	}

	return errors.New("couldn't start server")
}

func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.Base.Env.LISTEN_ADDR)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler: s.Router(),
	}
	s.httpServer = server
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown() {
	s.manager.Shutdown()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.SecondShort)
		defer cancel()
		if s.httpServer == nil {
			s.Base.Logger.Error("shutdown failed", "error", errors.New("server not initialized"))
			return
		}
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Base.Logger.Error("shutdown failed", "error", err)
		}
	}()
}
