// Copyright (c) 2024 The BitFS developers
// Use of this source code is governed by the Open BSV License v5
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/bitfsorg/libjukebox-go/royalty"
)

// validLogLevels lists the accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	BackendMemory: true,
	BackendBolt:   true,
	BackendBadger: true,
}

var validHashes = map[string]bool{
	"sha256":  true,
	"blake2b": true,
}

// ValidateConfig checks that all configuration values are within acceptable
// ranges and returns the first error encountered, or nil if valid.
func ValidateConfig(cfg Config) error {
	if !validBackends[cfg.Backend] {
		return ErrInvalidBackend
	}

	if cfg.DataDir == "" && cfg.Backend != BackendMemory {
		return ErrEmptyDataDir
	}

	if !validHashes[strings.ToLower(cfg.Hash)] {
		return ErrInvalidHash
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return ErrInvalidLogLevel
	}

	if err := royalty.ValidateFee(cfg.PlatformFeeBps, royalty.PlatformFeeCap); err != nil {
		return fmt.Errorf("%w: %d bps (cap %d)", ErrFeeTooHigh, cfg.PlatformFeeBps, royalty.PlatformFeeCap)
	}

	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidMetricsAddr, err)
		}
	}

	if cfg.DNSUpstream != "" {
		if err := validateAddr(cfg.DNSUpstream); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidDNSUpstream, err)
		}
	}

	if cfg.EventBuffer < 0 {
		return ErrInvalidEventBuffer
	}

	return nil
}

// validateAddr checks that addr is a valid host:port address.
func validateAddr(addr string) error {
	_, _, err := net.SplitHostPort(addr)
	return err
}
