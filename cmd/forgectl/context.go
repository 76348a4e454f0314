package main

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	defaultServerURL = "http://localhost:8080"
	serverEnvVar     = "FORGE_SERVER"
)

type commandContext struct {
	serverFlag *string
	verbose    *bool

	loggerOnce sync.Once
	logger     *slog.Logger

	httpClient *http.Client
}

func newCommandContext(serverFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		serverFlag: serverFlag,
		verbose:    verbose,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *commandContext) serverURL() string {
	if c.serverFlag != nil {
		if v := strings.TrimSpace(*c.serverFlag); v != "" {
			return strings.TrimRight(v, "/")
		}
	}
	if v := strings.TrimSpace(os.Getenv(serverEnvVar)); v != "" {
		return strings.TrimRight(v, "/")
	}
	return defaultServerURL
}

func (c *commandContext) api() *apiClient {
	return newAPIClient(c.serverURL(), c.httpClient, c.log(os.Stderr))
}

// log returns the diagnostic logger. Terminals get text, pipes get JSON.
func (c *commandContext) log(w io.Writer) *slog.Logger {
	c.loggerOnce.Do(func() {
		level := slog.LevelWarn
		if c.verbose != nil && *c.verbose {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		if isTerminal(w) {
			c.logger = slog.New(slog.NewTextHandler(w, opts))
		} else {
			c.logger = slog.New(slog.NewJSONHandler(w, opts))
		}
	})
	return c.logger
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
