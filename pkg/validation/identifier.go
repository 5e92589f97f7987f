// Copyright (C) 2025 xOpenBeta (envis@xopenbeta.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up
// in URL paths, file paths, or subprocess calls. Using these validators
// prevents injection attacks (command injection, path traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern matches valid environment and service names.
// Allows: letters, digits, hyphens, underscores; must start alphanumeric.
// Max length: 64 characters.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-]{0,63}$`)

// versionPattern matches version strings as they appear in download
// keys: dotted numerics with optional alphanumeric suffixes, like
// "16.4", "8.0.36", "20.11.1-lts".
var versionPattern = regexp.MustCompile(`^[0-9][a-zA-Z0-9.\-]{0,31}$`)

// ValidateName validates an environment or service name.
//
// Valid names:
//   - 1-64 characters
//   - Letters, digits, hyphens, underscores
//   - Must start with a letter or digit
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateName(name); err != nil {
//	    return fmt.Errorf("invalid environment name: %w", err)
//	}
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid name format: %q (must be 1-64 alphanumeric chars, hyphens, or underscores, starting alphanumeric)", name)
	}

	return nil
}

// ValidateVersion validates a service version string.
//
// Valid versions start with a digit and contain only alphanumerics,
// dots, and hyphens ("16.4", "20.11.1-lts"). Versions appear in URL
// query strings and download keys, so anything else is rejected.
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("version cannot be empty")
	}

	if !versionPattern.MatchString(version) {
		return fmt.Errorf("invalid version format: %q (must start with a digit and contain only alphanumerics, dots, or hyphens)", version)
	}

	return nil
}

// SanitizeName normalizes and validates a name.
// Returns the trimmed lowercase name if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeName, err := validation.SanitizeName(userInput)
//	if err != nil {
//	    return err
//	}
func SanitizeName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
