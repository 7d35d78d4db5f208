package main

import (
	"flag"
	"log"

	"github.com/danmuck/peerchat/internal/config"
	"github.com/danmuck/peerchat/internal/identity"
)

func main() {
	output := flag.String("output", "cmd/peerchat/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/peerchat/config.toml", "config path for validation")
	keygen := flag.String("keygen", "", "write a new identity key to this path and print its peer id")
	force := flag.Bool("force", false, "overwrite existing config or key file")
	flag.Parse()

	if *keygen != "" {
		priv, err := identity.Generate()
		if err != nil {
			log.Fatal(err)
		}
		if err := identity.Save(*keygen, priv, *force); err != nil {
			log.Fatal(err)
		}
		id, err := identity.PeerID(priv)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Wrote identity key to %s (peer id %s)", *keygen, id)
		return
	}

	if *validate {
		cfg, err := config.LoadPeerConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated peer config %q at %s", cfg.Name, *input)
		return
	}

	if err := config.WriteTemplate(*output, "peer", *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote peer config template to %s", *output)
}
