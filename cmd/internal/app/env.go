package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// dotEnvFile names the .env file read for the current COMMINQ_ENV.
func dotEnvFile() string {
	if strings.EqualFold(strings.TrimSpace(os.Getenv("COMMINQ_ENV")), "production") {
		return ".env.production"
	}
	return ".env.development"
}

// loadDotEnv populates unset variables from the .env file; a missing file is not an error.
// Variables already present in the process environment win.
func loadDotEnv() error {
	name := dotEnvFile()
	if err := godotenv.Load(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: load %s: %v", ErrConfig, name, err)
	}
	return nil
}
