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
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// Checksum names a validation run on a match before it is redacted.
type Checksum string

const (
	NoChecksum Checksum = ""
	Luhn       Checksum = "luhn"
)

type RedactionRulesFile struct {
	Classifications []Classification `yaml:"classifications"`
}

type Classification struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

// Pattern is one regex within a classification. When KeepAfter is set, a
// match is left in place if the text right before it matches KeepAfter,
// which should be anchored with `$`.
type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	Checksum        Checksum        `yaml:"checksum"`
	KeepAfter       string          `yaml:"keep_after"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
	compiledKeep    *regexp.Regexp  `yaml:"-"`
}

// redacts reports whether the match text[start:end] must be redacted.
func (p *Pattern) redacts(text string, start, end int) bool {
	if p.Checksum == Luhn && !luhnValid(text[start:end]) {
		return false
	}
	if p.compiledKeep != nil && p.compiledKeep.MatchString(text[:start]) {
		return false
	}
	return true
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingConfidence := ConfidenceLevel(s)
	switch incomingConfidence {
	case High, Medium, Low:
		*c = incomingConfidence
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incomingConfidence)
	}
}

func (c *Checksum) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch Checksum(s) {
	case NoChecksum, Luhn:
		*c = Checksum(s)
		return nil
	default:
		return fmt.Errorf("invalid value for Checksum: %q", s)
	}
}

func (p *RedactionRulesFile) CompileRegexes() error {
	for i := range p.Classifications {
		for j := range p.Classifications[i].Patterns {
			pattern := &p.Classifications[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			pattern.compiledPattern = re
			if pattern.KeepAfter != "" {
				keep, err := regexp.Compile(pattern.KeepAfter)
				if err != nil {
					return fmt.Errorf("failed to compile the keep_after regex %s: %w", pattern.KeepAfter, err)
				}
				pattern.compiledKeep = keep
			}
		}
	}
	return nil
}

func (p *RedactionRulesFile) SortByPriority() {
	sort.SliceStable(p.Classifications, func(i, j int) bool {
		return p.Classifications[i].Priority > p.Classifications[j].Priority
	})
}

// Finding records one redacted span.
type Finding struct {
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	Confidence         ConfidenceLevel `json:"confidence"`
}
