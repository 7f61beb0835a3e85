// Package indexer drives the external source indexer against a working copy.
//
// The indexer is a script that builds the target inside its project container
// with the compiler wrappers that emit Kythe compilation units. It writes one
// or more .kzip fragments to the output directory it is given:
//
//	idx, err := indexer.New(indexer.Conf{
//	    ScriptDir:    "/opt/program-model/scripts",
//	    Python:       "/usr/bin/python3",
//	    AllowPull:    true,
//	    BaseImageURL: "gcr.io/oss-fuzz",
//	}, runner, logger)
//	outDir, err := idx.IndexTarget(ctx, wc, ws.Dir)
//	if outDir == "" {
//	    // the tool ran but produced nothing
//	}
//
// The container runs as root, so files in the output directory belong to root
// until ownership is reconciled (see workcopy.OwnershipReconciler).
package indexer
