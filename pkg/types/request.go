package types

import (
	"path/filepath"
	"strings"
)

// IndexRequest identifies one build target to index. It is read-only once
// popped from the inbound queue.
type IndexRequest struct {
	TaskID      string `json:"task_id"`
	PackageName string `json:"package_name"`
	BuildType   string `json:"build_type"`
	Sanitizer   string `json:"sanitizer"`
	TaskDir     string `json:"task_dir"`
	HasDiff     bool   `json:"diff,omitempty"`
}

// Validate checks that the request carries the fields every strategy needs
func (r *IndexRequest) Validate() error {
	if strings.TrimSpace(r.TaskID) == "" {
		return ErrMissingTaskID
	}
	if err := ValidateTaskID(r.TaskID); err != nil {
		return err
	}
	if strings.TrimSpace(r.TaskDir) == "" {
		return ErrMissingTaskDir
	}
	return nil
}

// ValidateTaskID reports whether id can name a directory of its own. Task ids
// become path elements under the shared work directory, so separators and
// the dot entries are rejected.
func ValidateTaskID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return ErrInvalidTaskID
	case strings.ContainsAny(id, `/\`), filepath.Base(id) != id:
		return ErrInvalidTaskID
	}
	return nil
}

// String renders the request as package/task_id/task_dir for log lines
func (r IndexRequest) String() string {
	return r.PackageName + "/" + r.TaskID + "/" + r.TaskDir
}

// IndexOutput is the completion record published for a successfully indexed task
type IndexOutput struct {
	BuildType   string `json:"build_type"`
	PackageName string `json:"package_name"`
	Sanitizer   string `json:"sanitizer"`
	TaskDir     string `json:"task_dir"`
	TaskID      string `json:"task_id"`
}

// NewIndexOutput mirrors the fields of req that downstream consumers need
func NewIndexOutput(req IndexRequest) IndexOutput {
	return IndexOutput{
		BuildType:   req.BuildType,
		PackageName: req.PackageName,
		Sanitizer:   req.Sanitizer,
		TaskDir:     req.TaskDir,
		TaskID:      req.TaskID,
	}
}
