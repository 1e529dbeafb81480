// Package agentdb provides an embedded multi-collection vector store for Go.
//
// Agentdb keeps dense embeddings with typed attribute documents and serves
// filtered approximate nearest neighbor queries over them:
//
//   - Index engines per collection: Flat (exact), HNSW and IVF
//   - Scalar quantization (4 or 8 bit) with full-precision queries
//   - Conjunctive attribute filters backed by ordered and set indexes
//   - A query planner that switches between pre- and post-filtering
//   - Query result caching with version-stamp invalidation
//   - Batched writes with all-or-nothing application and backpressure
//   - Snapshots to local disk or S3-compatible storage, with rebuild
//     from raw records when a serialized engine is corrupt
//
// # Quick start
//
// Create a store, register a collection and search it:
//
//	ctx := context.Background()
//	store := agentdb.New()
//	err := store.CreateCollection(config.Collection{
//	    Name:      "memories",
//	    Dimension: 128,
//	    IndexKind: "hnsw",
//	})
//	if err != nil {
//	    panic(err)
//	}
//
//	id, err := store.Insert(ctx, "memories", "", embedding, metadata.Document{
//	    "agent": metadata.String("planner-7"),
//	})
//
//	hits, _, err := store.Search(ctx, "memories", query, 10,
//	    metadata.And(metadata.Eq("agent", metadata.String("planner-7"))))
//
// Fleet configuration can also come from YAML via config.Load and
// NewFromConfig.
//
// # Engine selection
//
//   - flat: exact search, small collections
//   - hnsw: in-memory graph, high recall at scale
//   - ivf: clustered lists, cheap memory, needs periodic Rebuild
package agentdb
