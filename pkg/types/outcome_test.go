package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTaskOutcome(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		results   []StrategyResult
		success   bool
		succeeded []StrategyName
	}{
		{
			name:    "no strategies ran",
			success: false,
		},
		{
			name: "both failed",
			results: []StrategyResult{
				Failed(StrategyCodeQuery, "build", boom, 0),
				Failed(StrategyKythe, "merge", boom, 0),
			},
			success: false,
		},
		{
			name: "codequery only",
			results: []StrategyResult{
				Succeeded(StrategyCodeQuery, 0),
				Failed(StrategyKythe, "load", boom, 0),
			},
			success:   true,
			succeeded: []StrategyName{StrategyCodeQuery},
		},
		{
			name: "kythe only",
			results: []StrategyResult{
				Failed(StrategyCodeQuery, "archive", boom, 0),
				Succeeded(StrategyKythe, 0),
			},
			success:   true,
			succeeded: []StrategyName{StrategyKythe},
		},
		{
			name: "both succeeded",
			results: []StrategyResult{
				Succeeded(StrategyCodeQuery, 0),
				Succeeded(StrategyKythe, 0),
			},
			success:   true,
			succeeded: []StrategyName{StrategyCodeQuery, StrategyKythe},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewTaskOutcome("T1", tt.results...)
			assert.Equal(t, "T1", out.TaskID)
			assert.Equal(t, tt.success, out.Success)
			assert.Equal(t, tt.succeeded, out.Succeeded())
			assert.Len(t, out.Ran(), len(tt.results))
		})
	}
}

func TestIndexRequest_Validate(t *testing.T) {
	req := IndexRequest{TaskID: "T1", TaskDir: "/tasks/T1"}
	assert.NoError(t, req.Validate())

	req.TaskID = " "
	assert.ErrorIs(t, req.Validate(), ErrMissingTaskID)

	req = IndexRequest{TaskID: "T1"}
	assert.ErrorIs(t, req.Validate(), ErrMissingTaskDir)
}

func TestIndexRequest_ValidateRejectsPathTaskIDs(t *testing.T) {
	for _, id := range []string{".", "..", "../T1", "a/b", `a\b`, "/T1", "T1/"} {
		t.Run(id, func(t *testing.T) {
			req := IndexRequest{TaskID: id, TaskDir: "/tasks/T1"}
			assert.ErrorIs(t, req.Validate(), ErrInvalidTaskID)
		})
	}

	for _, id := range []string{"T1", "task-1.v2", "..T1", "libpng_42"} {
		assert.NoError(t, ValidateTaskID(id), id)
	}
}

func TestNewIndexOutput(t *testing.T) {
	req := IndexRequest{
		TaskID:      "T1",
		PackageName: "libpng",
		BuildType:   "fuzzer",
		Sanitizer:   "address",
		TaskDir:     "/tasks/T1",
		HasDiff:     true,
	}

	out := NewIndexOutput(req)
	assert.Equal(t, IndexOutput{
		BuildType:   "fuzzer",
		PackageName: "libpng",
		Sanitizer:   "address",
		TaskDir:     "/tasks/T1",
		TaskID:      "T1",
	}, out)
	assert.Equal(t, "libpng/T1//tasks/T1", req.String())
}
