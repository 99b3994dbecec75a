// Package output renders command results for the dagnode CLI.
//
// Three formats are supported:
//
//   - table: flattened dotted keys with their values, one per row
//   - json: indented JSON
//   - yaml: YAML with two-space indentation
package output
