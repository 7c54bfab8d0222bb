// Package config loads the service configuration from ARAPONGA_* environment
// variables, with sensible defaults for local development and validation of
// the combinations that cannot work.
package config
