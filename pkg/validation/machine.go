// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for values that the
// conversational assistant extracts from customer messages.
//
// Values validated here are forwarded to the machine registry as path
// segments and JSON fields, so they are normalized and checked before any
// outbound call is made.
package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// serialPattern matches machine serial numbers.
// Allows: uppercase letters and digits, 6 to 32 characters.
var serialPattern = regexp.MustCompile(`^[A-Z0-9]{6,32}$`)

// modelPattern matches machine model designations such as EC220D or WLOL60H.
var modelPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9\-]{1,15}$`)

// SanitizeSerial normalizes and validates a serial number.
//
// Whitespace and interior dashes are stripped and letters are upper-cased
// before validation, so "ab-123 456" becomes "AB123456".
//
// Example:
//
//	serial, err := validation.SanitizeSerial(args.SerialNumber)
//	if err != nil {
//	    return nil, fmt.Errorf("invalid serial number: %w", err)
//	}
func SanitizeSerial(serial string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(serial))
	normalized = strings.NewReplacer(" ", "", "-", "").Replace(normalized)
	if normalized == "" {
		return "", fmt.Errorf("serial number cannot be empty")
	}
	if !serialPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid serial number format: %q (must be at least 6 alphanumeric characters)", serial)
	}
	return normalized, nil
}

// CheckSerial validates serial in its normalized form and returns the
// user's value with only surrounding whitespace trimmed. Registry lookups
// must use this value: records keep the serial as it was entered.
func CheckSerial(serial string) (string, error) {
	if _, err := SanitizeSerial(serial); err != nil {
		return "", err
	}
	return strings.TrimSpace(serial), nil
}

// SanitizeModel normalizes and validates a model designation.
// Returns the upper-cased model if valid, or an error if invalid.
func SanitizeModel(model string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(model))
	if normalized == "" {
		return "", fmt.Errorf("model name cannot be empty")
	}
	if !modelPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid model format: %q", model)
	}
	return normalized, nil
}

// IsSupportedModel reports whether model, after normalization, is one of the
// supported designations. supported is compared case-insensitively.
func IsSupportedModel(model string, supported []string) (string, bool) {
	normalized, err := SanitizeModel(model)
	if err != nil {
		return "", false
	}
	ok := slices.ContainsFunc(supported, func(s string) bool {
		return strings.EqualFold(strings.TrimSpace(s), normalized)
	})
	if !ok {
		return "", false
	}
	return normalized, true
}
