// Package config loads remotectl configuration from YAML.
//
// Values may reference environment variables with ${VAR}. Missing fields fall back
// to the Default* constants.
package config
