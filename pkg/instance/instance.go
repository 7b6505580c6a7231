package instance

import "os"

// GetID returns the process instance identifier, falling back to fallback
// when neither ORDERFLOW_INSTANCE_ID nor the platform dyno name is set.
func GetID(fallback string) string {
	if id := os.Getenv("ORDERFLOW_INSTANCE_ID"); id != "" {
		return id
	}
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	return fallback
}
