// Package confloader loads layered configuration with koanf.
//
// Sources, later ones overriding earlier:
//
//  1. Defaults already set on the target struct
//  2. A YAML file
//  3. Environment variables with the CAPTOKEN_ prefix
//
// Environment keys nest on a double underscore and keep single
// underscores, so CAPTOKEN_SERVER__HTTP__TLS_CERT_FILE sets
// server.http.tls_cert_file.
//
// Watcher reports changes to one file, used for hot-reloading the log
// level and the static directory.
package confloader
