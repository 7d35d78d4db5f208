package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/peerchat/internal/logging"
	"github.com/danmuck/peerchat/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to peer config (toml)")
	peerFlag := flag.String("peer", "", "remote peer id or /.../p2p/<id> address (overrides config)")
	adminFlag := flag.String("admin", "", "admin listen address (overrides config)")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg := service.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "peerchat: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(*peerFlag); v != "" {
		cfg.Peer = v
	}
	if v := strings.TrimSpace(*adminFlag); v != "" {
		cfg.AdminListenAddr = v
	}

	svc := service.NewService(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "peerchat: %v\n", err)
		os.Exit(1)
	}
}
