// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import "errors"

var (
	// ErrEmptyDataDir indicates the data directory path is empty.
	ErrEmptyDataDir = errors.New("config: data directory must not be empty")

	// ErrInvalidBackend indicates the store backend is not recognized.
	ErrInvalidBackend = errors.New("config: invalid backend (must be \"memory\", \"bolt\", or \"badger\")")

	// ErrInvalidHash indicates the hash algorithm is not recognized.
	ErrInvalidHash = errors.New("config: invalid hash (must be \"sha256\" or \"blake2b\")")

	// ErrInvalidLogLevel indicates the log level is not recognized.
	ErrInvalidLogLevel = errors.New("config: invalid log level (must be \"debug\", \"info\", \"warn\", or \"error\")")

	// ErrFeeTooHigh indicates the platform fee exceeds the cap.
	ErrFeeTooHigh = errors.New("config: platform fee above cap")

	// ErrInvalidMetricsAddr indicates the metrics listen address is malformed.
	ErrInvalidMetricsAddr = errors.New("config: invalid metrics address")

	// ErrInvalidDNSUpstream indicates the DNS resolver address is malformed.
	ErrInvalidDNSUpstream = errors.New("config: invalid DNS upstream")

	// ErrInvalidEventBuffer indicates a negative event buffer size.
	ErrInvalidEventBuffer = errors.New("config: event buffer must not be negative")

	// ErrConfigNotFound indicates the configuration file does not exist.
	ErrConfigNotFound = errors.New("config: configuration file not found")

	// ErrInvalidConfigFile indicates the configuration file is not valid YAML.
	ErrInvalidConfigFile = errors.New("config: invalid configuration file")

	// ErrInvalidEnv indicates a JUKEBOX_* environment variable could not be parsed.
	ErrInvalidEnv = errors.New("config: invalid environment variable")
)
