package os

import "os"

// GetEnvOr returns the environment variable name, or fallback when it is unset or empty.
func GetEnvOr(name, fallback string) string {
	val := os.Getenv(name)
	if val == "" {
		return fallback
	}
	return val
}
