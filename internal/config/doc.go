// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the settings of the HTTP server, the task engine,
// the optional archive database and the metrics endpoint.
package config
