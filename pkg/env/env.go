package env

import "os"

// Get reads an environment variable, treating unset and empty the same and
// falling back to the given default.
func Get(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
