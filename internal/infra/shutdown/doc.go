// Package shutdown runs named cleanup hooks when the process is asked to
// stop.
//
// Hooks run in reverse registration order under one deadline, so the HTTP
// server drains before the sweeper stops and the store closes last.
package shutdown
