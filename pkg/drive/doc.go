// Package drive defines the protocol-agnostic model of a personal drive:
// folders and files related by parent links, the navigable locations over
// them, and the error taxonomy shared by every layer.
//
// The packages below drive implement the core:
//   - hierarchy: the authoritative folder/file sets and their invariants
//   - engine: the single writer (create, ingest, delete, star, verify)
//   - quota: used-bytes accounting derived from the file set
//   - view: listings for a location and search term
//
// Nothing in this package performs I/O. Persistence and content storage are
// collaborators injected by the caller (see pkg/store and pkg/facade).
package drive
