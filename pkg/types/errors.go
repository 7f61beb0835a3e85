package types

import "errors"

// Domain errors for message validation
var (
	ErrMissingTaskID  = errors.New("task_id is required")
	ErrMissingTaskDir = errors.New("task_dir is required")
	ErrInvalidTaskID  = errors.New("task_id must be a single path element")
)
