// Package store provides SQLite-backed state shared by the rotation and
// watchdog loops, which may run in separate processes.
//
// Tables:
//   - known_good: the watchdog's expected hash per watched path
//   - meta: the manifest tag the known-good table was last reset from
//   - cycles: rotation cycle history
//   - watch_events: per-tick findings and repairs
//
// Every tick's baseline changes and events are committed in one
// transaction, so a crash leaves either the previous or the next state.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads from other processes during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for the other process's write lock
//   - MaxOpenConns=1: single writer per process
package store
