package main

import "time"

const defaultAPITimeout = 10 * time.Second

// GlobalFlags are shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// RunFlags holds flags for the run command.
type RunFlags struct {
	AllowConflicts bool
	Listen         string
	Framework      string
	HistoryDSN     string
	Metrics        bool
	MetricsListen  string
	LogLevel       string
}

type ValidateFlags struct {
	AllowConflicts bool
}

type ShowFlags struct {
	Output string // json or yaml
}

type ListFlags struct {
	Output string // table or json
}

type HistoryFlags struct {
	DSN   string
	Limit int
}
