// Package confloader loads layered node configuration.
//
// Sources, highest priority first:
//
//  1. Overrides (command-line flags)
//  2. Environment variables (DAGNODE_ prefix, "__" between sections)
//  3. The YAML configuration file
//  4. Defaults already present in the target struct
//
// Watcher reports writes to the configuration file so the node can apply
// the settings that are safe to change at runtime.
package confloader
