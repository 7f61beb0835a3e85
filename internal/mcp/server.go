package mcp

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/queue"
	"github.com/dshills/programmodel/internal/registry"
	"github.com/dshills/programmodel/internal/storage"
	"github.com/dshills/programmodel/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "programmodel-admin"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the queue and registry it administers
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	tasks    *queue.Queue[types.IndexRequest]
	outputs  *queue.Queue[types.IndexOutput]
	registry *registry.Registry
	logger   *zap.Logger
}

// NewServer creates a new MCP server over store. The caller owns store.
func NewServer(store storage.Storage, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := queue.NewFactory(store)

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		storage:  store,
		tasks:    f.IndexRequests(),
		outputs:  f.IndexOutputs(),
		registry: registry.New(store, logger),
		logger:   logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, err
	}
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until ctx is cancelled or
// stdin is closed
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("MCP admin server ready, listening on stdio")
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO serves the MCP protocol over in and out until ctx is cancelled or
// in reaches EOF. Cancellation is a clean shutdown.
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))

	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(enqueueIndexRequestTool(), s.handleEnqueueIndexRequest)
	s.mcp.AddTool(cancelTaskTool(), s.handleCancelTask)
	s.mcp.AddTool(getQueueStatusTool(), s.handleGetQueueStatus)
	return nil
}
