// Package config defines the node configuration.
//
//   - spec.go: NodeConfig and its sections
//   - default.go: default values
//   - verify.go: business validation (addresses, intervals, mining author)
//   - sanitize.go: masking of secrets before the config is logged
//
// Configuration is loaded via internal/infra/confloader from a YAML file,
// DAGNODE_ environment variables and command-line overrides.
package config
