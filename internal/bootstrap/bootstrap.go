// Package bootstrap creates the msgbridge home directory on first run.
package bootstrap

import (
	"fmt"
	"os"

	"github.com/neoclaw-ai/msgbridge/internal/config"
	"github.com/neoclaw-ai/msgbridge/internal/logging"
	"github.com/neoclaw-ai/msgbridge/internal/sim"
	"github.com/neoclaw-ai/msgbridge/internal/store"
)

// Initialize creates the home tree, a default config.toml, and sample simulator messages if missing.
// Existing files are never overwritten.
func Initialize(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", cfg.HomeDir, err)
	}

	configTOML, err := config.DefaultUserConfigTOML()
	if err != nil {
		return err
	}

	seeds := []struct {
		path  string
		write func(path string) (bool, error)
	}{
		{
			path: cfg.ConfigPath(),
			write: func(path string) (bool, error) {
				return store.WriteFileIfMissing(path, []byte(configTOML))
			},
		},
		{
			path: cfg.MessagesPath(),
			write: func(path string) (bool, error) {
				return store.WriteJSONIfMissing(path, sim.DefaultDefinitions())
			},
		},
	}
	for _, seed := range seeds {
		wrote, err := seed.write(seed.path)
		if err != nil {
			return err
		}
		if wrote {
			logging.Logger().Info("created file", "path", seed.path)
		}
	}
	return nil
}
