// Package config loads and validates gateway configuration from YAML or
// TOML files, with ${VAR} environment expansion and duration parsing.
package config
