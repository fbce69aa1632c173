package envutil

import "os"

// Prefix namespaces relay settings in shared environments
const Prefix = "SKETCHROOM_"

// Get retrieves an environment variable with automatic SKETCHROOM_ prefix fallback.
// It checks for the environment variable in this order:
// 1. Exact key as provided
// 2. Key with SKETCHROOM_ prefix
// 3. Returns fallback if neither exists
func Get(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	if len(key) < len(Prefix) || key[:len(Prefix)] != Prefix {
		if value, exists := os.LookupEnv(Prefix + key); exists {
			return value
		}
	}

	return fallback
}
