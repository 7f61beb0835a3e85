package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// enqueueIndexRequestTool returns the tool definition for enqueue_index_request
func enqueueIndexRequestTool() mcp.Tool {
	return mcp.Tool{
		Name:        "enqueue_index_request",
		Description: "Queue a task for program model indexing",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"task_id": map[string]interface{}{
					"type":        "string",
					"description": "Task identifier",
				},
				"package_name": map[string]interface{}{
					"type":        "string",
					"description": "OSS-Fuzz project name",
				},
				"build_type": map[string]interface{}{
					"type":        "string",
					"description": "Build flavour the task belongs to",
				},
				"sanitizer": map[string]interface{}{
					"type":        "string",
					"description": "Sanitizer the task was built with",
				},
				"task_dir": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path to the read-only task directory (src/, fuzz-tooling/, optional diff/)",
				},
				"diff": map[string]interface{}{
					"type":        "boolean",
					"description": "Whether the task carries a pending diff",
					"default":     false,
				},
				"deadline": map[string]interface{}{
					"type":        "string",
					"description": "Optional RFC 3339 deadline after which workers discard the task",
				},
			},
			Required: []string{"task_id", "task_dir"},
		},
	}
}

// cancelTaskTool returns the tool definition for cancel_task
func cancelTaskTool() mcp.Tool {
	return mcp.Tool{
		Name:        "cancel_task",
		Description: "Cancel a task so that queued requests for it are discarded",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"task_id": map[string]interface{}{
					"type":        "string",
					"description": "Task identifier",
				},
			},
			Required: []string{"task_id"},
		},
	}
}

// getQueueStatusTool returns the tool definition for get_queue_status
func getQueueStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_queue_status",
		Description: "Report queue depth and delivery state, optionally with one task's registry entry",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"task_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional task identifier to include registry state for",
				},
			},
		},
	}
}
