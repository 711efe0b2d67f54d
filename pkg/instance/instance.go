package instance

import (
	"os"
	"strings"
)

// GetID names the running replica for logs and lock ownership. DYNO wins over
// WORKER_ID, then the hostname, then "local".
func GetID() string {
	for _, key := range []string{"DYNO", "WORKER_ID"} {
		if id := strings.TrimSpace(os.Getenv(key)); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
