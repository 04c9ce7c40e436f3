package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config; built-in defaults apply when empty")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logger)
	if err := runDaemon(cfg, log); err != nil {
		log.Error("fatal boot error", "err", err)
		os.Exit(1)
	}
}
