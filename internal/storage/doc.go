// Package storage opens the persistent token store.
//
// Backends:
//
//   - memory: process-local maps, for tests and single-node demos
//   - badger: embedded LSM store with serializable transactions
//   - sqlite, postgres: database/sql store in package sqlstore
//
// Every backend implements service.Store and passes the storetest
// contract. Badger additionally streams native backups that package
// snapshot wraps into encrypted archives.
package storage
