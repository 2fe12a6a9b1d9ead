// Package config loads perch configuration from PERCH_* environment
// variables and validates it before the service starts.
package config
