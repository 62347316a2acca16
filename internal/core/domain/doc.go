// Package domain defines the core domain models for captoken.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - Token: capability token entity, kinds, scope and use accounting
//   - Policy: validity policy applied at issuance
//   - Payload: per-kind extension data (proximity anchor, request binding)
//   - Record: immutable check-in and signing records
//   - Request: pending signature requests and reminder accounting
//   - AttendanceSession: electronic attendance campaigns
//   - APIKey: staff credentials for administrative endpoints
//   - Errors: domain error codes
//
// Times are Unix milliseconds, matching the storage layer.
package domain
