// Package storage provides SQLite-based persistence for the work queues and
// the task registry.
//
// # Database Schema
//
// Tables:
//   - queue_items: Append-only queue entries (queue name, JSON payload)
//   - queue_deliveries: Claim and acknowledgement state per consumer group
//   - tasks: Task registry (deadline, cancellation flag)
//
// # Delivery Semantics
//
// Queues are at-least-once. A consumer claims an item, processes it and then
// acknowledges it. An item that is claimed but never acknowledged becomes
// claimable again once its claim is older than the claim timeout:
//
//	item, err := db.ClaimItem(ctx, "index_queue", "index_group", consumerID, 10*time.Minute)
//	if errors.Is(err, storage.ErrNotFound) {
//	    // queue empty
//	}
//	// ... process ...
//	err = db.AckItem(ctx, "index_queue", "index_group", item.ID)
//
// Each consumer group tracks its own deliveries, so a queue can be consumed
// independently by several groups.
//
// # Task Registry
//
//	_ = db.UpsertTask(ctx, &storage.TaskRecord{TaskID: "T1", Deadline: deadline})
//	_ = db.CancelTask(ctx, "T1")
//	task, err := db.GetTask(ctx, "T1")
//
// Cancellation is sticky: once cancelled a task stays cancelled.
//
// # Build Tags
//
// CGO Build (sqlite_vec tag) uses github.com/mattn/go-sqlite3.
//
// Pure Go Build (default, or purego tag) uses modernc.org/sqlite.
package storage
