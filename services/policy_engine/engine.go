// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/FieldAssist/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// PolicyEngine redacts sensitive values from free text. It holds the
// compiled rules sorted by priority.
type PolicyEngine struct {
	Classifiers []Classification
}

// NewPolicyEngine loads the rules embedded in the binary via the
// enforcement package.
//
// Returns an error if the embedded YAML is malformed or contains an
// invalid regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.RedactionRules)
}

// NewPolicyEngineFromYAML builds an engine from a rules document.
//
// It performs the following operations:
// 1. Unmarshals the YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts classifications by priority.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	var rules RedactionRulesFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the redaction rules: %w", err)
	}

	if err := rules.CompileRegexes(); err != nil {
		return nil, fmt.Errorf("failed to compile a regex %w", err)
	}

	rules.SortByPriority()

	return &PolicyEngine{Classifiers: rules.Classifications}, nil
}

// Redact replaces every match with "[REDACTED:{classification}]".
//
// Classifications run highest priority first, so a card number is redacted
// as payment_card before the phone patterns see its digits. Matches that
// fail the pattern's checksum, or follow its keep_after context, are left in
// place.
//
// # Thread Safety
//
// Safe for concurrent use; the engine is read-only after construction.
func (e *PolicyEngine) Redact(text string) (string, []Finding) {
	var findings []Finding
	for _, classifier := range e.Classifiers {
		placeholder := "[REDACTED:" + classifier.Name + "]"
		for i := range classifier.Patterns {
			pattern := &classifier.Patterns[i]
			matches := pattern.compiledPattern.FindAllStringIndex(text, -1)
			if len(matches) == 0 {
				continue
			}
			var b strings.Builder
			last := 0
			for _, m := range matches {
				if !pattern.redacts(text, m[0], m[1]) {
					continue
				}
				b.WriteString(text[last:m[0]])
				b.WriteString(placeholder)
				last = m[1]
				findings = append(findings, Finding{
					ClassificationName: classifier.Name,
					PatternId:          pattern.Id,
					Confidence:         pattern.Confidence,
				})
			}
			b.WriteString(text[last:])
			text = b.String()
		}
	}
	return text, findings
}

// Classify returns the name of the first classification that matches text,
// or "public".
func (e *PolicyEngine) Classify(text string) string {
	for _, classifier := range e.Classifiers {
		for i := range classifier.Patterns {
			pattern := &classifier.Patterns[i]
			for _, m := range pattern.compiledPattern.FindAllStringIndex(text, -1) {
				if pattern.redacts(text, m[0], m[1]) {
					return classifier.Name
				}
			}
		}
	}
	return "public"
}

// luhnValid checks the digits of s, ignoring separators.
func luhnValid(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 13 && sum%10 == 0
}
