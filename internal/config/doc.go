// Package config loads and validates the processing configuration from
// environment variables and an optional YAML file.
package config
