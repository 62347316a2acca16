// Package tlsroots loads trust roots and serving certificates.
//
// Pool builds the CA set used for outbound webhook and Redis connections.
// CertReloader serves the HTTP listener certificate and swaps it when the
// files change, driven by a confloader.Watcher.
package tlsroots
