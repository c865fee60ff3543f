package gami

import (
	"errors"
	"io"
	"log/slog"
)

var (
	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrAlreadyStarted is returned by Start on a running framework.
	ErrAlreadyStarted = errors.New("framework already started")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("framework is closed")
)

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. This is intended for use in defer statements to ensure
// cleanup errors are not silently ignored.
//
// If logger is nil, slog.Default() is used.
//
// Example usage:
//
//	defer gami.CloseWithLog(backend, logger, "snapshot backend")
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
