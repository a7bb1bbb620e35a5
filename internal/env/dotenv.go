package env

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadFile reads a dotenv file and returns its variables as sorted
// "KEY=VALUE" entries. Quoting, comments and "export" prefixes follow
// godotenv semantics.
func LoadFile(path string) ([]string, error) {
	m, err := godotenv.Read(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return Pairs(m), nil
}

// LoadOptionalFile behaves like LoadFile but returns no entries when the
// file does not exist.
func LoadOptionalFile(path string) ([]string, error) {
	kvs, err := LoadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return kvs, err
}
