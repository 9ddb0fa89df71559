// Package storage persists subscribers, calendar entries and the admin audit
// trail.
//
// Two drivers are available:
//   - "file": a directory of JSON documents (users.json, advent_days.json)
//     plus an append-only audit.jsonl
//   - "sqlite": a single SQLite database with embedded migrations
//
// A Store owns its backing resource. Mutations are serialized by the store
// itself: the file driver funnels every read-modify-write through one mutex,
// the sqlite driver runs each mutation in a transaction.
package storage
