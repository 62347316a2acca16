// Package snapshot writes and restores backup archives of a store.
//
// An archive wraps the backend's own backup stream:
//
//	backup-<timestamp>-<sequence>.ctbk
//	[magic:8 "CTBACKUP"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:8][Data:DataLen]   (backend stream, or AEAD ciphertext)
//	[checksum:32 SHA-256 of all bytes above]
//
// Encrypted archives bind the archive ID as additional data. Passphrase
// keys are derived with Argon2id and the salt is kept in the header, so
// the same passphrase opens every archive it wrote.
package snapshot
