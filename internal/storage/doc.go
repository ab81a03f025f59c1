// Package storage implements reminder.EventStore.
//
// Drivers:
//   - "sqlite" (default): a single database file, pure Go driver
//   - "file": JSON Lines journal compacted into a snapshot
//   - "memory": process-local, lost on exit
//   - "postgres": shared server database through a pgx pool
//
// Backend failures are returned as *reminder.PersistenceError.
package storage
