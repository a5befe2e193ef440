// Package server wires every internal component into one HTTP server:
// config, router, cooldown, provider registry, dispatcher, store, tracer,
// and accountant feed a handlers.Gateway, fronted by the middleware chains
// in internal/middleware.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/Davincible/plexus/internal/accounting"
	"github.com/Davincible/plexus/internal/config"
	"github.com/Davincible/plexus/internal/cooldown"
	"github.com/Davincible/plexus/internal/dispatcher"
	"github.com/Davincible/plexus/internal/handlers"
	"github.com/Davincible/plexus/internal/middleware"
	"github.com/Davincible/plexus/internal/providers"
	"github.com/Davincible/plexus/internal/router"
	"github.com/Davincible/plexus/internal/store"
	"github.com/Davincible/plexus/internal/tracer"
)

// Server owns the full component graph plus the http.Server that fronts it.
type Server struct {
	config *config.Manager
	logger *slog.Logger

	router     *router.Router
	cooldown   *cooldown.Manager
	registry   *providers.Registry
	dispatcher *dispatcher.Dispatcher
	store      store.Store
	tracer     *tracer.Tracer
	accountant *accounting.Accountant
	gateway    *handlers.Gateway

	server *http.Server
}

// New builds every component off the currently loaded configuration. The
// config manager is expected to already have Load()'d successfully.
func New(configManager *config.Manager, logger *slog.Logger) (*Server, error) {
	cfg := configManager.Get()
	if cfg == nil {
		return nil, errors.New("configuration not loaded")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "plexus.db")
	sqliteStore, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	accountant := accounting.New(cfg.ToPricingTable(), accounting.DefaultEnergyProfile, true, sqliteStore, logger)

	rt := router.New(cfg.ToRouterSnapshot(), accountant)
	cd := cooldown.New(logger)
	registry := providers.NewRegistry()
	dp := dispatcher.New(rt, cd, registry, sqliteStore, cfg.ToRetryConfig(), logger)
	dp.PublishProviders(cfg.ToProviderConfigs())

	sink := store.NewTraceSink(sqliteStore)
	tr := tracer.New(sink, logger, 256)

	gw := handlers.NewGateway(configManager, rt, dp, cd, sqliteStore, tr, accountant, logger)

	return &Server{
		config:     configManager,
		logger:     logger,
		router:     rt,
		cooldown:   cd,
		registry:   registry,
		dispatcher: dp,
		store:      sqliteStore,
		tracer:     tr,
		accountant: accountant,
		gateway:    gw,
	}, nil
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return errors.New("configuration not loaded")
	}

	if err := s.cooldown.StartSweeper(cfg.Resilience.Cooldown.SweepIntervalCron); err != nil {
		return fmt.Errorf("start cooldown sweeper: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.logger.Info("starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
			if strings.Contains(err.Error(), "address already in use") || strings.Contains(err.Error(), "bind: address already in use") {
				s.handleAddressInUse(addr)
				os.Exit(1)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Stop(); err != nil {
		_ = ctx
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("server exited")

	return nil
}

func (s *Server) Stop() error {
	s.cooldown.StopSweeper()
	s.tracer.Stop()

	if s.store != nil {
		_ = s.store.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	healthHandler := handlers.NewHealthHandler(s.logger)
	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)

	r.With(middlewareSet.Logging).Get("/health", healthHandler.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middlewareSet.Logging, middlewareSet.Auth)

		r.Post("/v1/chat/completions", s.gateway.ChatCompletions)
		r.Post("/v1/responses", s.gateway.Responses)
		r.Post("/v1/messages", s.gateway.Messages)
		r.Post("/v1beta/models/{modelAction}", s.gateway.GenerateContent)

		r.Get("/config", s.gateway.Config)
		r.Post("/config", s.gateway.Config)
		r.Get("/state", s.gateway.State)
		r.Post("/state", s.gateway.State)
		r.Get("/logs", s.gateway.Logs)
		r.Get("/logs/{id}", s.gateway.LogByID)
		r.Delete("/logs/{id}", s.gateway.LogByID)
		r.Post("/v0/oauth/{provider}", s.gateway.OAuthExchange)
	})

	return r
}

// handleAddressInUse attempts to find and display the PID using the specified address
func (s *Server) handleAddressInUse(addr string) {
	s.logger.Error("address already in use", "address", addr)

	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		s.logger.Error("failed to parse address", "address", addr, "error", err)
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		s.logger.Error("invalid port number", "port", portStr, "error", err)
		return
	}

	pid := s.findProcessUsingPort(port)
	if pid > 0 {
		processInfo := s.getProcessInfo(pid)
		s.logger.Error("port is being used by another process",
			"port", port,
			"pid", pid,
			"process", processInfo)
	} else {
		s.logger.Error("could not determine which process is using the port", "port", port)
	}
}

// findProcessUsingPort attempts to find the PID of the process using the specified port
func (s *Server) findProcessUsingPort(port int) int {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.findProcessUsingPortUnix(port)
	case "windows":
		return s.findProcessUsingPortWindows(port)
	default:
		s.logger.Warn("unsupported OS for port detection", "os", runtime.GOOS)
		return 0
	}
}

// findProcessUsingPortUnix finds process using port on Unix-like systems
func (s *Server) findProcessUsingPortUnix(port int) int {
	if pid := s.tryNetstat(port); pid > 0 {
		return pid
	}
	if pid := s.tryLsof(port); pid > 0 {
		return pid
	}
	if pid := s.trySS(port); pid > 0 {
		return pid
	}
	return 0
}

// tryNetstat attempts to find PID using netstat
func (s *Server) tryNetstat(port int) int {
	cmd := exec.Command("netstat", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTEN") {
			parts := strings.Fields(line)
			if len(parts) >= 7 {
				pidProgram := parts[6]
				if pidStr := strings.Split(pidProgram, "/")[0]; pidStr != "-" {
					if pid, err := strconv.Atoi(pidStr); err == nil {
						return pid
					}
				}
			}
		}
	}

	return 0
}

// tryLsof attempts to find PID using lsof
func (s *Server) tryLsof(port int) int {
	if port < 1 || port > 65535 {
		return 0
	}
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port))

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	pidStr := strings.TrimSpace(string(output))
	if pidStr != "" {
		if pid, err := strconv.Atoi(pidStr); err == nil {
			return pid
		}
	}

	return 0
}

// trySS attempts to find PID using ss command
func (s *Server) trySS(port int) int {
	cmd := exec.Command("ss", "-tlnp")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTEN") {
			if idx := strings.Index(line, "pid="); idx != -1 {
				pidPart := line[idx+4:]
				if commaIdx := strings.Index(pidPart, ","); commaIdx != -1 {
					pidStr := pidPart[:commaIdx]
					if pid, err := strconv.Atoi(pidStr); err == nil {
						return pid
					}
				}
			}
		}
	}

	return 0
}

// findProcessUsingPortWindows finds process using port on Windows
func (s *Server) findProcessUsingPortWindows(port int) int {
	cmd := exec.Command("netstat", "-ano")

	output, err := cmd.Output()
	if err != nil {
		return 0
	}

	lines := strings.Split(string(output), "\n")
	portPattern := fmt.Sprintf(":%d ", port)

	for _, line := range lines {
		if strings.Contains(line, portPattern) && strings.Contains(line, "LISTENING") {
			parts := strings.Fields(line)
			if len(parts) >= 5 {
				pidStr := parts[4]
				if pid, err := strconv.Atoi(pidStr); err == nil {
					return pid
				}
			}
		}
	}

	return 0
}

// getProcessInfo attempts to get information about a process
func (s *Server) getProcessInfo(pid int) string {
	switch runtime.GOOS {
	case "linux", "darwin":
		return s.getProcessInfoUnix(pid)
	case "windows":
		return s.getProcessInfoWindows(pid)
	default:
		return fmt.Sprintf("PID %d", pid)
	}
}

// getProcessInfoUnix gets process info on Unix-like systems
func (s *Server) getProcessInfoUnix(pid int) string {
	if pid < 1 || pid > 4194304 {
		return fmt.Sprintf("PID %d (invalid)", pid)
	}
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=")

	output, err := cmd.Output()
	if err == nil {
		processName := strings.TrimSpace(string(output))
		if processName != "" {
			return fmt.Sprintf("%s (PID: %d)", processName, pid)
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}

// getProcessInfoWindows gets process info on Windows
func (s *Server) getProcessInfoWindows(pid int) string {
	cmd := exec.Command("tasklist", "/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH")

	output, err := cmd.Output()
	if err == nil {
		lines := strings.Split(string(output), "\n")
		if len(lines) > 0 && lines[0] != "" {
			parts := strings.Split(lines[0], ",")
			if len(parts) >= 1 {
				processName := strings.Trim(parts[0], "\"")
				return fmt.Sprintf("%s (PID: %d)", processName, pid)
			}
		}
	}

	return fmt.Sprintf("PID: %d", pid)
}
