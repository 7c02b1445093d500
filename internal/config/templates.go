package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter file: "link" for config.toml, "schema" for a
// command table extending the default builtin set.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "link", "config":
		return linkTemplate, nil
	case "schema":
		return schemaTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const linkTemplate = `[serial]
port = "/dev/ttyUSB0"
baud = 115200
rts_cts = false

[schema]
version = "znp-3.x"
# file = "commands.toml"

[link]
attempt_timeout = "2s"
max_attempts = 3
result_timeout = "10s"
command_timeout = "15s"
max_pending = 64
write_queue = 32
subscriber_buffer = 64

[diagnostics]
addr = ":9410"
cors_origins = ["http://localhost:3000"]
`

const schemaTemplate = `version = "site-1"
base = "znp-3.x"

[[commands]]
name = "UTIL.LedControl"
type = "SREQ"
subsystem = "UTIL"
id = 0x0A
reply = "sync"
request = [{ name = "LED", type = "uint8" }, { name = "Mode", type = "uint8" }]
response = [{ name = "Status", type = "status" }]
`
