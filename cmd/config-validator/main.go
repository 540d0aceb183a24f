package main

import (
	"fmt"
	"os"

	"github.com/chess10kp/whiskers/internal/config"
)

func main() {
	configPath := "~/.config/whiskers/config.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	fmt.Printf("Validating config: %s\n", configPath)

	cfg, err := config.LoadAndValidateConfig(configPath)
	if err != nil {
		fmt.Printf("❌ Config validation failed: %v\n", err)
		os.Exit(1)
	}

	for _, keyword := range cfg.DuplicateKeywords() {
		fmt.Printf("⚠️  Keyword %q is claimed more than once; only the first entry is reachable\n", keyword)
	}
	fmt.Printf("✅ Config is valid! (%d extensions, %d search engines)\n", len(cfg.Extensions), len(cfg.SearchEngines))
}
