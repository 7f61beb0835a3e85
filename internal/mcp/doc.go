// Package mcp implements a Model Context Protocol (MCP) admin server for the
// indexing queue.
//
// The server exposes three tools over stdio:
//   - enqueue_index_request: Push an IndexRequest onto the inbound queue
//   - cancel_task: Mark a task cancelled so workers discard its requests
//   - get_queue_status: Report delivery counts for the inbound and outbound
//     queues, and optionally the registry entry of one task
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Logs go to stderr; stdout is reserved for protocol messages.
//
// # Tool: enqueue_index_request
//
//	Request:
//	{
//	  "name": "enqueue_index_request",
//	  "arguments": {
//	    "task_id": "T1",
//	    "package_name": "libpng",
//	    "build_type": "fuzzer",
//	    "sanitizer": "address",
//	    "task_dir": "/tasks/T1",
//	    "diff": false,
//	    "deadline": "2026-01-02T15:04:05Z"
//	  }
//	}
//
//	Response:
//	{
//	  "queued": true,
//	  "item_id": 42,
//	  "queue": "index_queue"
//	}
//
// # Tool: cancel_task
//
//	Request:  {"name": "cancel_task", "arguments": {"task_id": "T1"}}
//	Response: {"cancelled": true, "task_id": "T1"}
//
// # Tool: get_queue_status
//
//	Request:  {"name": "get_queue_status", "arguments": {"task_id": "T1"}}
//	Response:
//	{
//	  "queues": [
//	    {"queue": "index_queue", "group": "index_group", "total": 3, "pending": 1, "claimed": 1, "acked": 1},
//	    {"queue": "index_output_queue", "total": 1}
//	  ],
//	  "task": {"task_id": "T1", "cancelled": false, "deadline": "..."}
//	}
//
// # Error Handling
//
// Errors are returned as MCPError values with JSON-RPC codes:
//   - -32602: Invalid parameters
//   - -32603: Internal error
//   - -32001: Task not found in the registry
package mcp
