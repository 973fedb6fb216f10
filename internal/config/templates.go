package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes the commented daemon template to path.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

const Template = `# execd daemon configuration
name = "execd"
addr = ":9300"
cors_origins = ["http://localhost:3000"]
# bearer token for POST/DELETE routes; empty leaves them open
auth_token = ""

[executor]
queue_size = 64
activity_buffer = 256
manager_idle_interval = "200ms"
readiness_timeout = "100ms"
# SIGTERM to SIGKILL escalation window; kill_grace_ms = 3000 replaces it
kill_grace = "3s"
read_chunk_size = 32768
`
