package client

import (
	"fmt"
	"net/http"
	"time"
)

// AppStatus is the status of one supervised app as reported by the daemon.
type AppStatus struct {
	Name       string        `json:"name"`
	State      string        `json:"state"`
	PID        int           `json:"pid"`
	StartedAt  time.Time     `json:"started_at"`
	StoppedAt  time.Time     `json:"stopped_at"`
	Uptime     time.Duration `json:"uptime"`
	ExitCode   int           `json:"exit_code"`
	ExitErr    string        `json:"exit_error,omitempty"`
	Restarts   int           `json:"restarts"`
	Entrypoint string        `json:"entrypoint"`
	Watching   bool          `json:"watching"`
	CPUPercent float64       `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64        `json:"memory_rss,omitempty"`
}

// Health is the /healthz response.
type Health struct {
	OK   bool `json:"ok"`
	Apps int  `json:"apps"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// NotFound reports whether the daemon does not know the app.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }
