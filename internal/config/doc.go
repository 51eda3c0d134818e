// Package config handles configuration loading, parsing, and validation
// from environment variables, an optional config.yaml, a .env file and an
// optional provider pricing catalog. Cap changes in the config file can be
// observed at runtime through Watch.
package config
