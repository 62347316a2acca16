// Package service provides the domain services for captoken.
//
// Domain services hold the business rules and orchestrate the domain model.
// They define the storage and collaborator interfaces they depend on:
//
//   - TokenService: issuance, validation, consumption, signature capture
//   - Sweeper: expiry transitions and reminder scheduling
//   - AttendanceService: electronic attendance campaigns
//   - AuthService: staff API keys, permissions and rate limits
//   - JWTIdentityVerifier: signer identity from bearer assertions
package service
