// Package memory provides in-memory storage for captoken.
//
// Primary indexes are sharded concurrent maps holding immutable snapshots;
// every mutation replaces the snapshot under one store-wide lock, so reads
// never block and conditional updates are atomic.
package memory
