package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Token environment variables, in order of precedence.
var tokenEnv = []string{"FEEDWATCH_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// applyEnv fills secrets that are not set in the file.
func applyEnv(cfg *Config) {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		for _, k := range tokenEnv {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				cfg.Telegram.Token = v
				break
			}
		}
	}
	if cfg.Storage.Redis.Password == "" {
		cfg.Storage.Redis.Password = os.Getenv("FEEDWATCH_REDIS_PASSWORD")
	}
	if cfg.Ops.Token == "" {
		cfg.Ops.Token = os.Getenv("FEEDWATCH_OPS_TOKEN")
	}
}
