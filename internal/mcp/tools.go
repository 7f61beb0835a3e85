package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/programmodel/internal/storage"
	"github.com/dshills/programmodel/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeTaskNotFound  = -32001 // Task has no registry entry
)

// handleEnqueueIndexRequest handles the enqueue_index_request tool invocation
func (s *Server) handleEnqueueIndexRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	req := types.IndexRequest{
		TaskID:      getStringDefault(args, "task_id", ""),
		PackageName: getStringDefault(args, "package_name", ""),
		BuildType:   getStringDefault(args, "build_type", ""),
		Sanitizer:   getStringDefault(args, "sanitizer", ""),
		TaskDir:     getStringDefault(args, "task_dir", ""),
		HasDiff:     getBoolDefault(args, "diff", false),
	}
	if err := req.Validate(); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, err.Error(), map[string]interface{}{
			"reason": "missing or empty",
		})
	}
	if err := validateTaskDir(req.TaskDir); err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid task_dir", map[string]interface{}{
			"param":  "task_dir",
			"reason": err.Error(),
		})
	}

	var deadline time.Time
	if raw := getStringDefault(args, "deadline", ""); raw != "" {
		var err error
		if deadline, err = time.Parse(time.RFC3339, raw); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "deadline must be RFC 3339", map[string]interface{}{
				"param": "deadline",
				"value": raw,
			})
		}
	}
	if !deadline.IsZero() {
		if err := s.registry.Register(ctx, req.TaskID, deadline); err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to register task", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	id, err := s.tasks.Push(ctx, req)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to enqueue request", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.logger.Info("Enqueued index request",
		zap.String("task_id", req.TaskID),
		zap.String("package", req.PackageName),
		zap.Int64("item_id", id))

	response := map[string]interface{}{
		"queued":  true,
		"item_id": id,
		"queue":   s.tasks.Name(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCancelTask handles the cancel_task tool invocation
func (s *Server) handleCancelTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	taskID, ok := args["task_id"].(string)
	if !ok || taskID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "task_id parameter is required", map[string]interface{}{
			"param":  "task_id",
			"reason": "missing or empty",
		})
	}

	if err := s.registry.Cancel(ctx, taskID); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to cancel task", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.logger.Info("Cancelled task", zap.String("task_id", taskID))

	response := map[string]interface{}{
		"cancelled": true,
		"task_id":   taskID,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetQueueStatus handles the get_queue_status tool invocation
func (s *Server) handleGetQueueStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	// Arguments are optional for this tool
	args, _ := request.Params.Arguments.(map[string]interface{})

	var queues []interface{}
	for _, stat := range []func(context.Context) (*storage.QueueStats, error){s.tasks.Stats, s.outputs.Stats} {
		st, err := stat(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to read queue stats", map[string]interface{}{
				"error": err.Error(),
			})
		}
		queues = append(queues, formatStats(st))
	}
	response := map[string]interface{}{"queues": queues}

	if taskID := getStringDefault(args, "task_id", ""); taskID != "" {
		task, err := s.storage.GetTask(ctx, taskID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, newMCPError(ErrorCodeTaskNotFound, "task not found", map[string]interface{}{
				"task_id": taskID,
			})
		}
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to get task", map[string]interface{}{
				"error": err.Error(),
			})
		}
		entry := map[string]interface{}{
			"task_id":   task.TaskID,
			"cancelled": task.Cancelled,
			"expired":   task.Expired(time.Now()),
		}
		if !task.Deadline.IsZero() {
			entry["deadline"] = task.Deadline.UTC().Format(time.RFC3339)
		}
		response["task"] = entry
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

func formatStats(st *storage.QueueStats) map[string]interface{} {
	out := map[string]interface{}{
		"queue": st.Queue,
		"total": st.Total,
	}
	// Produce-only queues have no consumer group to report deliveries for
	if st.Group != "" {
		out["group"] = st.Group
		out["pending"] = st.Pending
		out["claimed"] = st.Claimed
		out["acked"] = st.Acked
	}
	return out
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// validateTaskDir checks that a task directory exists and is readable
func validateTaskDir(path string) error {
	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}
	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
