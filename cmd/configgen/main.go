package main

import (
	"flag"
	"log"

	"github.com/danmuck/execd/internal/config"
)

const defaultPath = "cmd/execd/config.toml"

func main() {
	output := flag.String("output", defaultPath, "output path for the execd config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated execd config at %s (addr=%s kill_grace=%s)", *input, cfg.Addr, cfg.Executor.KillGrace.Duration)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote execd config template to %s", *output)
}
