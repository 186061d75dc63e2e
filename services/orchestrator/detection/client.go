// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package detection calls the hosted equipment-damage detection model and
// renders its findings as an annotation for the conversation.
package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("fieldassist.detection")

const (
	// DefaultConfidenceThreshold drops predictions below this confidence.
	DefaultConfidenceThreshold = 0.25

	// DefaultTimeout bounds one detection request.
	DefaultTimeout = 30 * time.Second
)

// ErrNotConfigured is returned by Disabled.
var ErrNotConfigured = errors.New("image detection is not configured")

// labelMap translates the model's class names into English labels.
var labelMap = map[string]string{
	"Corrosion":         "Corrosion",
	"Desgaste_Manguera": "Hose Wear",
	"Falla_Piston":      "Piston Failure",
	"Humedecimiento":    "Moisture Ingress",
}

// Label returns the display label for a model class name.
func Label(class string) string {
	if l, ok := labelMap[class]; ok {
		return l
	}
	return class
}

// Detection is one finding on an image.
type Detection struct {
	Label      string  `json:"label"`
	Location   string  `json:"location"`
	Confidence float64 `json:"confidence"`
}

// Result is the output of a detection call.
type Result struct {
	Detections        []Detection `json:"detections"`
	AnnotatedImageURL string      `json:"annotated_image_url,omitempty"`
}

// Detector evaluates an image by URL.
type Detector interface {
	Detect(ctx context.Context, imageURL string) (Result, error)
}

// Config configures Client.
type Config struct {
	URL                 string
	APIKey              string
	ModelID             string
	ConfidenceThreshold float64
	Timeout             time.Duration
}

// Client calls the inference endpoint:
//
//	POST {url}/{model_id}?api_key=..&image={image_url}
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	endpoint   string
	apiKey     string
	threshold  float64
	httpClient *http.Client
}

var _ Detector = (*Client)(nil)

// NewClient creates a detection client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" || cfg.ModelID == "" {
		return nil, fmt.Errorf("detection url and model_id are required")
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/" + strings.Trim(cfg.ModelID, "/"),
		apiKey:     cfg.APIKey,
		threshold:  cfg.ConfidenceThreshold,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type inferenceResponse struct {
	Image struct {
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	} `json:"image"`
	Predictions []struct {
		X          float64 `json:"x"`
		Y          float64 `json:"y"`
		Width      float64 `json:"width"`
		Height     float64 `json:"height"`
		Confidence float64 `json:"confidence"`
		Class      string  `json:"class"`
	} `json:"predictions"`
	AnnotatedImageURL string `json:"annotated_image_url"`
}

// Detect runs the model on imageURL. Predictions under the confidence
// threshold are dropped; x and y are the box centre in pixels.
func (c *Client) Detect(ctx context.Context, imageURL string) (Result, error) {
	ctx, span := tracer.Start(ctx, "detection.Detect")
	defer span.End()

	q := url.Values{}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	q.Set("image", imageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return Result{}, fmt.Errorf("detection request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("detection service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status")
		return Result{}, err
	}

	var parsed inferenceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	res := Result{AnnotatedImageURL: parsed.AnnotatedImageURL}
	for _, p := range parsed.Predictions {
		if p.Confidence < c.threshold {
			continue
		}
		res.Detections = append(res.Detections, Detection{
			Label:      Label(p.Class),
			Location:   LocationLabel(p.X, p.Y, parsed.Image.Width, parsed.Image.Height),
			Confidence: p.Confidence,
		})
	}
	span.SetAttributes(attribute.Int("detections", len(res.Detections)))
	slog.Debug("Image detection completed", "detections", len(res.Detections))
	return res, nil
}

// UnknownLocation is the location of a detection in an image whose
// dimensions the service did not report.
const UnknownLocation = "unknown"

// LocationLabel places a point in a 3x3 grid over the image, for example
// "top-left" or "middle-center". Without positive image dimensions it
// returns UnknownLocation.
func LocationLabel(x, y, width, height float64) string {
	if width <= 0 || height <= 0 {
		return UnknownLocation
	}
	horiz := "right"
	switch {
	case x < width/3:
		horiz = "left"
	case x < 2*width/3:
		horiz = "center"
	}
	vert := "bottom"
	switch {
	case y < height/3:
		vert = "top"
	case y < 2*height/3:
		vert = "middle"
	}
	return vert + "-" + horiz
}

// Disabled is the detector used when no endpoint is configured.
type Disabled struct{}

// Detect always fails with ErrNotConfigured.
func (Disabled) Detect(context.Context, string) (Result, error) {
	return Result{}, ErrNotConfigured
}
