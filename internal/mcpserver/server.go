// Package mcpserver exposes the engine to AI agents over the Model Context
// Protocol. The server runs standalone on stdio with a SQLite-backed
// history, so an agent host needs no external services.
package mcpserver

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/labtrend-engine/internal/config"
	"github.com/labtrend-engine/internal/history"
	"github.com/labtrend-engine/internal/reference"
	"github.com/labtrend-engine/internal/registry"
	"github.com/labtrend-engine/internal/service"
)

// Server is the MCP server wrapping the processing pipeline.
type Server struct {
	config    *config.LiteConfig
	mcpServer *mcp.Server
	pipeline  *service.Pipeline
	registry  *registry.Registry
	store     history.Store
	logger    *logrus.Logger
}

// Option is a functional option for Server.
type Option func(*Server) error

// WithHistoryStore sets a custom history store.
func WithHistoryStore(store history.Store) Option {
	return func(s *Server) error {
		s.store = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// NewServer creates a new MCP server instance. Without options it persists
// history to SQLite under the configured data directory.
func NewServer(cfg *config.LiteConfig, opts ...Option) (*Server, error) {
	server := &Server{
		config: cfg,
		logger: logrus.New(),
	}

	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	reg, err := registry.Load(server.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load test registry: %w", err)
	}
	server.registry = reg

	if server.store == nil {
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := history.NewSQLiteStore(cfg.HistoryDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create history store: %w", err)
		}
		server.store = store
	}

	server.pipeline = service.NewPipeline(
		reg,
		reference.NewResolver(reg, server.logger),
		service.NewClassifier(cfg.BorderlineMargin, server.logger),
		service.NewTrendAnalyzer(cfg.NoiseFraction, server.logger),
		server.store,
		service.PipelineOptions{},
		server.logger,
	)

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "labtrend-mcp-server",
		Version: "v0.1.0",
	}, nil)
	server.registerTools()

	server.logger.Info("MCP server initialized")
	return server, nil
}

// registerTools registers the engine tools with the MCP SDK.
func (s *Server) registerTools() {
	tools := []struct {
		tool    *mcp.Tool
		handler mcp.ToolHandler
	}{
		{
			tool: &mcp.Tool{
				Name:        "process_report",
				Description: "Process a full lab report: resolve test names, normalize units, classify every row against reference ranges and derive trends from patient history.",
				InputSchema: &jsonschema.Schema{Type: "object"},
			},
			handler: s.handleProcessReport,
		},
		{
			tool: &mcp.Tool{
				Name:        "classify_measurement",
				Description: "Classify a single lab measurement against its reference range without recording it in patient history.",
				InputSchema: &jsonschema.Schema{Type: "object"},
			},
			handler: s.handleClassifyMeasurement,
		},
		{
			tool: &mcp.Tool{
				Name:        "analyze_trend",
				Description: "Derive the trend (improving, worsening, stable) for one patient and test from stored observation history.",
				InputSchema: &jsonschema.Schema{Type: "object"},
			},
			handler: s.handleAnalyzeTrend,
		},
		{
			tool: &mcp.Tool{
				Name:        "list_tests",
				Description: "List the canonical lab tests the engine knows, with aliases, units and healthy directions.",
				InputSchema: &jsonschema.Schema{Type: "object"},
			},
			handler: s.handleListTests,
		},
	}

	for _, t := range tools {
		s.mcpServer.AddTool(t.tool, t.handler)
		s.logger.WithField("tool_name", t.tool.Name).Debug("Registered MCP tool")
	}
}

// Start runs the MCP server on stdio until the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *Server) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close history store")
			return err
		}
	}
	return nil
}
