// Package batch implements the batch-processing core: splitting datasets
// into provider-sized submissions, tracking each submission through an
// explicit lifecycle state machine, deduplicating records across runs, and
// retrieving and merging results.
//
// Key pieces:
//   - Unit: one provider submission with a status that never regresses out
//     of a terminal state
//   - Parent: hierarchical composition for datasets larger than one batch,
//     whose processed-record set doubles as the dedup ledger
//   - Store: durable directory-based metadata with atomic snapshot writes
//     and cross-process locking for read-modify-write cycles
//   - Coordinator: deterministic order-preserving splits and idempotent
//     resumption against an existing parent batch directory
//   - Retriever: polling driver with check-only, wait, and default modes
//
// The batch core is single-process and sequential; the only concurrency it
// contends with is the provider advancing jobs out-of-band and independent
// invocations sharing a parent batch directory.
package batch
