package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "peer":
		return peerTemplate, nil
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

const peerTemplate = `name = "peerchat"
identity_key_file = "peerchat.key"
listen_addrs = ["/ip4/0.0.0.0/tcp/4001", "/ip6/::/tcp/4001"]

# Remote peer id, or a full /ip4/.../tcp/.../p2p/<id> address. Leave empty to
# wait for the other side to connect.
peer = ""
peer_addrs = []

protocol_id = "/peerchat/0"
max_connect_attempts = 0
max_connect_duration = "0s"
attempt_timeout = "10s"
max_payload_bytes = 8192
announce_presence = true
chat_log_limit = 1000

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true

[admin]
listen_addr = ""
token = ""
`
