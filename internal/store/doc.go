// Package store owns the embedded SQLite store file and every connection to it.
//
// # Handles
//
// A [Handle] wraps one database/sql pool. A writable handle is the only writer for its file
// for the lifetime of the process: opening one takes an exclusive, non-blocking lock on a
// sidecar "<path>.lock" file and fails with [shared.ErrStoreLocked] when another instance
// already holds it. Read-only handles take no lock and may be opened freely.
//
// # Manager
//
// The [Manager] opens one writable handle and one reader pool for the same path and hands
// both to a [Coordinator]. Callers never see a handle directly.
//
// # Transactions
//
// The [Coordinator] serializes write transactions behind a single-permit semaphore. A writer
// waits at most the configured busy timeout for the permit and retries SQLITE_BUSY with
// bounded exponential backoff inside the same budget, then fails with [shared.ErrStoreBusy].
// Read transactions run on the reader pool and, in WAL mode, observe a snapshot taken at
// their first statement.
//
// Driver errors are translated into the [shared] error taxonomy before they leave the package.
package store
