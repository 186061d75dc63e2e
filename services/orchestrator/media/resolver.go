// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package media resolves bracketed image tokens in assistant replies, such
// as "[fig-12.png]", to hosted manual images.
package media

import (
	"log/slog"
	"regexp"
	"strings"
)

// DefaultMinSimilarity is the normalized similarity a token needs to match
// an asset name that is not identical to it.
const DefaultMinSimilarity = 0.8

var tokenPattern = regexp.MustCompile(`\[([\w\-]+\.(?i:png|jpg|jpeg|gif))\]`)

// Source lists the known asset file names.
type Source interface {
	Assets() []string
}

// Resolver rewrites reply text against a Source.
//
// # Thread Safety
//
// Safe for concurrent use if the Source is.
type Resolver struct {
	source        Source
	baseURL       string
	minSimilarity float64
}

// NewResolver creates a resolver. baseURL is joined with the matched asset
// name to form the media URL. A non-positive minSimilarity uses
// DefaultMinSimilarity.
func NewResolver(source Source, baseURL string, minSimilarity float64) *Resolver {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	if baseURL != "" && !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Resolver{source: source, baseURL: baseURL, minSimilarity: minSimilarity}
}

// Resolve returns text with resolved tokens removed and unresolved tokens
// replaced by "[Missing image: name]", plus the URL of the first resolved
// asset ("" when none resolved).
func (r *Resolver) Resolve(text string) (string, string) {
	if !tokenPattern.MatchString(text) {
		return text, ""
	}

	var assets []string
	if r.source != nil {
		assets = r.source.Assets()
	}

	var mediaURL string
	out := tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := tokenPattern.FindStringSubmatch(token)[1]
		asset, ok := r.match(name, assets)
		if !ok {
			slog.Warn("Image token has no matching asset", "token", name)
			return "[Missing image: " + name + "]"
		}
		if mediaURL == "" {
			mediaURL = r.baseURL + asset
		}
		return ""
	})
	return tidy(out), mediaURL
}

// match finds the closest asset to name. An exact match always wins.
func (r *Resolver) match(name string, assets []string) (string, bool) {
	lower := strings.ToLower(name)
	best, bestScore := "", 0.0
	for _, a := range assets {
		if a == name {
			return a, true
		}
		score := similarity(lower, strings.ToLower(a))
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	if best == "" || bestScore < r.minSimilarity {
		return "", false
	}
	return best, true
}

// tidy collapses the double spaces left behind by removed tokens.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		for strings.Contains(l, "  ") {
			l = strings.ReplaceAll(l, "  ", " ")
		}
		l = strings.ReplaceAll(l, " .", ".")
		l = strings.ReplaceAll(l, " ,", ",")
		lines[i] = strings.TrimRight(l, " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// similarity is 1 - levenshtein(a, b)/max(len(a), len(b)).
func similarity(a, b string) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(longest)
}

// levenshteinDistance computes the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	if len(a) < len(b) {
		a, b = b, a
	}

	// Two rows instead of the full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				min(prev[j]+1, curr[j-1]+1),
				prev[j-1]+cost,
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
