// Package dotenv fills the process environment from local env files.
package dotenv

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Load reads each existing file in order. Variables already in the
// environment are never replaced, so earlier files take precedence over
// later ones and the real environment beats them all.
func Load(paths ...string) error {
	for _, path := range paths {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return fmt.Errorf("stat env file %q: %w", path, err)
		case info.IsDir():
			return fmt.Errorf("env file %q is a directory", path)
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %q: %w", path, err)
		}
	}
	return nil
}
