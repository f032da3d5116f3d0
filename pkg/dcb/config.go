package dcb

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// reservedDeviceNames mirrors the Windows device-name reservations; the
// engine runs on any filesystem, so context names are validated against
// the strictest common denominator.
var reservedDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const reservedNameChars = `/\:*?"<>|`

// StoreConfig configures a Store. RootPath and Contexts are required;
// everything else has a usable zero value.
type StoreConfig struct {
	// RootPath is the absolute filesystem path the store is rooted at.
	RootPath string

	// Contexts lists the context names the Store will manage.
	Contexts []string

	// FlushEventsImmediately selects durable-append mode: fsync the
	// event file and the ledger on every commit. Default false means
	// deferred flush (OS cache write-back).
	FlushEventsImmediately bool

	// WriteProtectEventFiles sets the read-only bit on event files
	// after their final rename.
	WriteProtectEventFiles bool

	// WriteProtectProjectionFiles sets the read-only bit on projection
	// state files after each write.
	WriteProtectProjectionFiles bool

	// ParallelRead enables concurrent event-file loads during query
	// evaluation.
	ParallelRead bool

	// Logger receives structured diagnostics. A nil Logger disables
	// logging (zerolog.Nop()).
	Logger *zerolog.Logger

	// Registerer receives the store's prometheus instrumentation. A
	// nil Registerer disables metrics registration entirely.
	Registerer prometheus.Registerer

	// DecisionBackOff overrides the retry policy used by
	// ExecuteDecision. When nil, a default exponential backoff is
	// used.
	DecisionBackOff func() backoff.BackOff
}

func (c StoreConfig) validate() error {
	if c.RootPath == "" {
		return newValidation("StoreConfig.validate", "RootPath", c.RootPath, fmt.Errorf("must not be empty"))
	}
	if !filepath.IsAbs(c.RootPath) {
		return newValidation("StoreConfig.validate", "RootPath", c.RootPath, fmt.Errorf("must be absolute"))
	}
	if len(c.Contexts) == 0 {
		return newValidation("StoreConfig.validate", "Contexts", "", fmt.Errorf("must list at least one context"))
	}
	seen := make(map[string]bool, len(c.Contexts))
	for _, name := range c.Contexts {
		if err := validateContextName(name); err != nil {
			return err
		}
		if seen[name] {
			return newValidation("StoreConfig.validate", "Contexts", name, fmt.Errorf("duplicate context name"))
		}
		seen[name] = true
	}
	return nil
}

func validateContextName(name string) error {
	if name == "" {
		return newValidation("validateContextName", "name", name, fmt.Errorf("must not be empty"))
	}
	if strings.ContainsAny(name, reservedNameChars) {
		return newValidation("validateContextName", "name", name, fmt.Errorf("contains a reserved filesystem character"))
	}
	if strings.ContainsRune(name, 0) {
		return newValidation("validateContextName", "name", name, fmt.Errorf("contains NUL"))
	}
	if reservedDeviceNames[strings.ToUpper(name)] {
		return newValidation("validateContextName", "name", name, fmt.Errorf("matches an OS-reserved device name"))
	}
	return nil
}

func (c StoreConfig) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return zerolog.Nop()
}
