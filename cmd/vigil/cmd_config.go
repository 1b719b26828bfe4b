package main

// ---------------------------------------------------------------------------
// cmd_config.go - print the effective configuration
// ---------------------------------------------------------------------------

import (
	"flag"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vigil-sec/vigil/internal/core"
)

func cmdConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	defaults := fs.Bool("defaults", false, "Print built-in defaults instead of the loaded file")
	showSecrets := fs.Bool("show-secrets", false, "Print credentials instead of masking them")
	fs.Parse(args)

	cfg := core.DefaultConfig()
	if !*defaults {
		var err error
		if cfg, err = loadConfig(envConfig(*configPath)); err != nil {
			errorf("loading config: %v", err)
		}
	}
	if !*showSecrets {
		maskSecrets(cfg)
	}
	if err := writeConfigYAML(os.Stdout, cfg); err != nil {
		errorf("encoding config: %v", err)
	}
}

func writeConfigYAML(w io.Writer, cfg *core.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

const masked = "********"

// maskSecrets replaces every credential in cfg with a placeholder. Empty
// values stay empty so unset credentials remain visible.
func maskSecrets(cfg *core.Config) {
	mask := func(s *string) {
		if *s != "" {
			*s = masked
		}
	}
	mask(&cfg.Email.Password)
	mask(&cfg.Telegram.BotToken)
	mask(&cfg.WhatsApp.AuthToken)
	mask(&cfg.Pushover.AppToken)
	for i := range cfg.Server.APIKeys {
		mask(&cfg.Server.APIKeys[i])
	}
}
