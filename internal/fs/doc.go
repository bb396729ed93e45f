// Package fs is the file-system seam under the write-ahead log and the local
// blob store.
//
// Production code uses [Default], a [LocalFS]. Tests wrap it in a [FaultyFS]
// so that opens, writes, syncs or truncations fail on demand:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule(".wal", fs.Fault{FailOnSync: true})
//
// Operations take no context.Context because local file I/O cannot be
// interrupted at the syscall level.
package fs
