// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/api/option"
)

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver(StaticSource{"fig1.png", "fuel-filter.jpg", "fig10.png"}, "https://cdn.example.com/images", 0)

	testCases := []struct {
		name     string
		in       string
		wantText string
		wantURL  string
	}{
		{
			name:     "exact match removed",
			in:       "Replace the filter [fig1.png]",
			wantText: "Replace the filter",
			wantURL:  "https://cdn.example.com/images/fig1.png",
		},
		{
			name:     "close match resolves",
			in:       "See [fuel_filter.jpg] for the location.",
			wantText: "See for the location.",
			wantURL:  "https://cdn.example.com/images/fuel-filter.jpg",
		},
		{
			name:     "missing asset marker",
			in:       "Check the pump [hydraulic-pump.png]",
			wantText: "Check the pump [Missing image: hydraulic-pump.png]",
			wantURL:  "",
		},
		{
			name:     "first resolved wins",
			in:       "[nothing-like-it.gif] then [fig10.png] and [fig1.png]",
			wantText: "[Missing image: nothing-like-it.gif] then and",
			wantURL:  "https://cdn.example.com/images/fig10.png",
		},
		{
			name:     "upper case extension",
			in:       "Diagram [fig1.PNG]",
			wantText: "Diagram",
			wantURL:  "https://cdn.example.com/images/fig1.png",
		},
		{
			name:     "no tokens untouched",
			in:       "Bleed  the fuel system.",
			wantText: "Bleed  the fuel system.",
			wantURL:  "",
		},
		{
			name:     "non image brackets untouched",
			in:       "Use [step 3] now",
			wantText: "Use [step 3] now",
			wantURL:  "",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			text, url := r.Resolve(tc.in)
			assert.Equal(t, tc.wantText, text)
			assert.Equal(t, tc.wantURL, url)
		})
	}
}

func TestResolver_ExactMatchBeatsCloser(t *testing.T) {
	r := NewResolver(StaticSource{"fig10.png", "fig1.png"}, "/images/", 0.5)
	_, url := r.Resolve("[fig1.png]")
	assert.Equal(t, "/images/fig1.png", url)
}

func TestResolver_NilSource(t *testing.T) {
	text, url := NewResolver(nil, "", 0).Resolve("[a.png]")
	assert.Equal(t, "[Missing image: a.png]", text)
	assert.Empty(t, url)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, similarity("", ""))
	assert.Equal(t, 1.0, similarity("abc", "abc"))
	assert.InDelta(t, 0.0, similarity("abc", "xyz"), 1e-9)
	assert.Equal(t, 3, levenshteinDistance("kitten", "sitting"))
}

// =============================================================================
// Source Tests
// =============================================================================

func TestLocalSource_ScansImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.JPG", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0o755))

	s, err := NewLocalSource(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.JPG", "b.png"}, s.Assets())
}

func TestLocalSource_MissingDir(t *testing.T) {
	_, err := NewLocalSource(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLocalSource_WatchPicksUpNewFiles(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	s, err := NewLocalSource(dir)
	require.NoError(t, err)
	require.Empty(t, s.Assets())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.png"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return len(s.Assets()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestGCSSource_ListsBucket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/b/manual-images/o") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"storage#objects","items":[
			{"kind":"storage#object","name":"ec220d/fig1.png","bucket":"manual-images"},
			{"kind":"storage#object","name":"ec220d/readme.md","bucket":"manual-images"},
			{"kind":"storage#object","name":"ec220d/nested/fig2.png","bucket":"manual-images"}
		]}`))
	}))
	defer srv.Close()

	s, err := NewGCSSource(context.Background(), GCSConfig{
		Bucket: "manual-images",
		Prefix: "ec220d/",
		ClientOptions: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/storage/v1/"),
			option.WithoutAuthentication(),
		},
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"fig1.png"}, s.Assets())
	assert.Equal(t, "https://storage.googleapis.com/manual-images/ec220d/", s.PublicBaseURL())
}

func TestGCSSource_RequiresBucket(t *testing.T) {
	_, err := NewGCSSource(context.Background(), GCSConfig{})
	assert.Error(t, err)
}
