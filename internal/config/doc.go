// Package config loads the service configuration from a YAML file, with
// secrets optionally supplied through the environment or a .env file.
package config
