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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/fsnotify/fsnotify"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var imageExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

func isImage(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

// assetSet is a mutex-guarded sorted name list shared by the sources.
type assetSet struct {
	mu    sync.RWMutex
	names []string
}

func (s *assetSet) Assets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s *assetSet) replace(names []string) {
	sort.Strings(names)
	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
}

// =============================================================================
// StaticSource
// =============================================================================

// StaticSource is a fixed asset list.
type StaticSource []string

// Assets returns the list.
func (s StaticSource) Assets() []string { return s }

// =============================================================================
// LocalSource
// =============================================================================

// LocalSource lists the images in a directory and keeps the list current
// while Watch runs.
type LocalSource struct {
	assetSet
	dir string
}

// NewLocalSource scans dir once.
func NewLocalSource(dir string) (*LocalSource, error) {
	s := &LocalSource{dir: dir}
	if err := s.Refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

// Refresh rescans the directory.
func (s *LocalSource) Refresh() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read media dir %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && isImage(e.Name()) {
			names = append(names, e.Name())
		}
	}
	s.replace(names)
	return nil
}

// Watch rescans on create, remove and rename events until ctx is done.
// It blocks; run it in its own goroutine.
func (s *LocalSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	slog.Info("Watching media directory", "dir", s.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Refresh(); err != nil {
				slog.Warn("Media directory rescan failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Media watcher error", "error", err)
		}
	}
}

// =============================================================================
// GCSSource
// =============================================================================

// GCSConfig configures GCSSource.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string

	// ClientOptions are appended after the credentials option.
	ClientOptions []option.ClientOption
}

// GCSSource lists the images stored in a Cloud Storage bucket.
type GCSSource struct {
	assetSet
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSource connects to the bucket and lists it once.
func NewGCSSource(ctx context.Context, cfg GCSConfig) (*GCSSource, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("media bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	opts = append(opts, cfg.ClientOptions...)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	s := &GCSSource{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
	if err := s.Refresh(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

// PublicBaseURL is the public object URL prefix of the bucket.
func (s *GCSSource) PublicBaseURL() string {
	return "https://storage.googleapis.com/" + s.bucket + "/" + s.prefix
}

// Refresh relists the bucket. Names are relative to the prefix.
func (s *GCSSource) Refresh(ctx context.Context) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list gs://%s/%s: %w", s.bucket, s.prefix, err)
		}
		name := strings.TrimPrefix(attrs.Name, s.prefix)
		if name != "" && !strings.Contains(name, "/") && isImage(name) {
			names = append(names, name)
		}
	}
	s.replace(names)
	slog.Info("Listed media bucket", "bucket", s.bucket, "assets", len(names))
	return nil
}

// Close releases the storage client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}
