// Package output renders captoken-cli results.
//
//   - formatter.go: Formatter interface, factory and Printer
//   - table.go: aligned tables built by each command
//   - json.go, yaml.go: machine-readable output
//   - spinner.go: progress animation for long operations
//
// JSON and YAML print the server payload unchanged; the table form is a
// per-command summary.
package output
