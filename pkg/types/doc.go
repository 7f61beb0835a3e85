// Package types provides shared type definitions for the program-model indexing worker.
//
// This package defines the messages exchanged over the work queues and the
// outcome types reported by the indexing strategies.
//
// # Queue Messages
//
// IndexRequest arrives on the inbound queue and identifies one build target:
//
//	req := types.IndexRequest{
//	    TaskID:      "T1",
//	    PackageName: "libpng",
//	    BuildType:   "fuzzer",
//	    Sanitizer:   "address",
//	    TaskDir:     "/tasks/T1",
//	}
//
// IndexOutput is published on the outbound queue once a task has been indexed
// by at least one strategy:
//
//	out := types.NewIndexOutput(req)
//
// # Outcomes
//
// Every strategy reports a StrategyResult. A TaskOutcome combines them with a
// logical OR: the task succeeds when any strategy that ran succeeded.
//
//	outcome := types.NewTaskOutcome(req.TaskID, codequeryResult, kytheResult)
//	if outcome.Success {
//	    publish(types.NewIndexOutput(req))
//	}
package types
