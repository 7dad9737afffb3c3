// Package env reads process configuration for the settlement services.
package env

import "os"

// Get looks up key in the environment and falls back when it is unset or
// empty. An empty value is treated as unset so a blank compose entry does
// not wipe out a working default.
func Get(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
