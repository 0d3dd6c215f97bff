//go:build dev

package config

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// loadDotEnv never overrides variables already set, so earlier files win.
func loadDotEnv(files []string) error {
	present := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "stat %s", file)
		}
		present = append(present, file)
	}
	if len(present) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(present...), "load dotenv")
}
