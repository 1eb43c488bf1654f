package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv loads KEY=VALUE pairs from the .env file at path into the process
// environment. Variables that are already set keep their value. A sibling
// "<path>.secret" file is loaded the same way when present.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		return err
	}
	secret := path + ".secret"
	ok, err := exists(secret)
	if err != nil || !ok {
		return err
	}
	return godotenv.Load(secret)
}

// LoadEnvOptional is LoadEnv for a file that may not exist.
func LoadEnvOptional(path string) error {
	ok, err := exists(path)
	if err != nil || !ok {
		return err
	}
	return LoadEnv(path)
}

func exists(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
