// Package workcopy manages scoped, writable copies of read-only task trees.
//
// A task directory has the layout produced upstream:
//
//	<task_dir>/
//	    src/<project>/     project sources
//	    fuzz-tooling/      build scripts and project configuration
//	    diff/*.diff        optional pending patch (delta tasks only)
//
// Acquire copies the tree into a fresh directory below a work dir and applies
// the pending patch before returning. The caller owns the copy and must
// release it on every exit path:
//
//	wc, err := lc.Acquire(ctx, req.TaskDir, workDir)
//	if err != nil {
//	    return err
//	}
//	defer wc.Release()
//
// The package also carries the two permission operations the graph pipeline
// needs: GrantReaderAccess lets the graph database, running as another user,
// read artifacts in a workspace, and an OwnershipReconciler hands files
// written by a privileged indexer back to the worker's own user.
package workcopy
