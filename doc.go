// Package flatvec provides a minimal embedded vector store for Go.
//
// A Store keeps its records in memory and answers exact nearest-neighbour
// queries by scanning every candidate. Durability comes from a single
// append-only write-ahead log per store: every mutation is logged and
// fsynced before it is applied, and opening a store replays the log.
//
// # Quick Start
//
//	ctx := context.Background()
//	store, _ := flatvec.Open(ctx, "./docs.wal", flatvec.Create(768, distance.MetricCosine))
//	defer store.Close()
//
//	_, _ = store.Insert(ctx, flatvec.Record{
//	    ID:       1,
//	    Text:     "vector databases",
//	    Vector:   embedding,
//	    Metadata: metadata.Document{"category": metadata.String("AI")},
//	})
//
// # Search
//
// Scores are distances: lower is closer. Ties are broken by ascending id.
//
//	fs, _ := metadata.ParseFilter(map[string]any{"year": map[string]any{"$gte": 2020}})
//	results, _ := store.Search(ctx, query, 10, flatvec.WithFilter(fs))
//	for _, r := range results {
//	    fmt.Println(r.ID, r.Score, r.Text)
//	}
//
// # Durability Model
//
//   - Insert and Delete return after the log entry is on stable storage
//     (wal.DurabilitySync, the default).
//   - A failed log write leaves the in-memory state untouched.
//   - A torn tail left by a crash is truncated on the next Open.
//   - Compact rewrites the log with only the live records; Snapshot streams
//     the same compacted form to any io.Writer, and Restore reverses it.
//
// Re-inserting an existing id replaces the record.
package flatvec
