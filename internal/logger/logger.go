package logger

import (
	"fmt"
	"io"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default rotation settings.
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// Config describes where an app's stdout and stderr go.
// If OutFile/ErrorFile are empty and Dir is set, files are
// Dir/<name>-out.log and Dir/<name>-error.log.
// Rotation parameters follow lumberjack semantics.
type Config struct {
	Dir        string `json:"log_dir,omitempty"`
	OutFile    string `json:"out_file,omitempty"`
	ErrorFile  string `json:"error_file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// Enabled reports whether any destination is configured.
func (c Config) Enabled() bool {
	return c.Dir != "" || c.OutFile != "" || c.ErrorFile != ""
}

// Paths resolves the stdout and stderr file paths for an app name.
func (c Config) Paths(name string) (string, string) {
	out, errPath := c.OutFile, c.ErrorFile
	if out == "" && c.Dir != "" {
		out = filepath.Join(c.Dir, fmt.Sprintf("%s-out.log", name))
	}
	if errPath == "" && c.Dir != "" {
		errPath = filepath.Join(c.Dir, fmt.Sprintf("%s-error.log", name))
	}
	return out, errPath
}

// WithDefaults fills the directory and rotation settings left unset from d.
func (c Config) WithDefaults(d Config) Config {
	if c.Dir == "" && c.OutFile == "" && c.ErrorFile == "" {
		c.Dir = d.Dir
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = d.MaxSizeMB
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = d.MaxBackups
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = d.MaxAgeDays
	}
	c.Compress = c.Compress || d.Compress
	return c
}

// Writers returns rotating writers for stdout and stderr of the named app.
// A nil writer means the stream is not captured.
func (c Config) Writers(name string) (io.WriteCloser, io.WriteCloser) {
	out, errPath := c.Paths(name)
	var outW, errW io.WriteCloser
	if out != "" {
		outW = c.rotating(out)
	}
	if errPath != "" {
		if errPath == out {
			errW = nopCloser{outW}
		} else {
			errW = c.rotating(errPath)
		}
	}
	return outW, errW
}

func (c Config) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// nopCloser lets stdout and stderr share one file without closing it twice.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
