// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package detection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocationLabel(t *testing.T) {
	testCases := []struct {
		x, y float64
		want string
	}{
		{10, 10, "top-left"},
		{150, 10, "top-center"},
		{290, 10, "top-right"},
		{10, 150, "middle-left"},
		{150, 150, "middle-center"},
		{290, 290, "bottom-right"},
		{100, 200, "bottom-center"}, // boundaries fall into the next third
	}
	for _, tc := range testCases {
		t.Run(tc.want, func(t *testing.T) {
			assert.Equal(t, tc.want, LocationLabel(tc.x, tc.y, 300, 300))
		})
	}
}

func TestLocationLabel_MissingDimensions(t *testing.T) {
	assert.Equal(t, UnknownLocation, LocationLabel(290, 290, 0, 0))
	assert.Equal(t, UnknownLocation, LocationLabel(10, 10, 300, 0))
	assert.Equal(t, UnknownLocation, LocationLabel(10, 10, -1, 300))
}

func TestClient_DetectWithoutImageSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"predictions": [{"x": 500, "y": 250, "confidence": 0.8, "class": "Corrosion"}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, ModelID: "m"})
	require.NoError(t, err)

	res, err := c.Detect(context.Background(), "https://img.example.com/a.jpg")
	require.NoError(t, err)

	require.Len(t, res.Detections, 1)
	assert.Equal(t, UnknownLocation, res.Detections[0].Location)
	assert.Contains(t, Annotate(res, nil), "- Corrosion, location unknown (confidence 0.80)")
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Hose Wear", Label("Desgaste_Manguera"))
	assert.Equal(t, "Piston Failure", Label("Falla_Piston"))
	assert.Equal(t, "Moisture Ingress", Label("Humedecimiento"))
	assert.Equal(t, "Corrosion", Label("Corrosion"))
	assert.Equal(t, "frayed_wire", Label("frayed_wire"))
}

func TestClient_Detect(t *testing.T) {
	var gotQuery, gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"image": {"width": 600, "height": 300},
			"predictions": [
				{"x": 50, "y": 50, "width": 20, "height": 20, "confidence": 0.91, "class": "Desgaste_Manguera"},
				{"x": 500, "y": 250, "width": 20, "height": 20, "confidence": 0.10, "class": "Corrosion"},
				{"x": 300, "y": 150, "width": 20, "height": 20, "confidence": 0.25, "class": "Falla_Piston"}
			],
			"annotated_image_url": "https://cdn.example.com/annotated.jpg"
		}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL + "/", APIKey: "k1", ModelID: "hydraulics/3"})
	require.NoError(t, err)

	res, err := c.Detect(context.Background(), "https://img.example.com/a.jpg")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/hydraulics/3", gotPath)
	assert.Contains(t, gotQuery, "api_key=k1")
	assert.Contains(t, gotQuery, "image=https%3A%2F%2Fimg.example.com%2Fa.jpg")
	assert.Equal(t, []Detection{
		{Label: "Hose Wear", Location: "top-left", Confidence: 0.91},
		{Label: "Piston Failure", Location: "middle-center", Confidence: 0.25},
	}, res.Detections)
	assert.Equal(t, "https://cdn.example.com/annotated.jpg", res.AnnotatedImageURL)
}

func TestClient_DetectBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, ModelID: "m"})
	require.NoError(t, err)

	_, err = c.Detect(context.Background(), "https://img.example.com/a.jpg")
	assert.ErrorContains(t, err, "404")
}

func TestClient_DetectNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c, err := NewClient(Config{URL: srv.URL, ModelID: "m"})
	require.NoError(t, err)

	_, err = c.Detect(context.Background(), "https://img.example.com/a.jpg")
	assert.ErrorContains(t, err, "detection request")
}

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(Config{URL: "http://x"})
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Detect(context.Background(), "u")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAnnotate(t *testing.T) {
	t.Run("detections", func(t *testing.T) {
		got := Annotate(Result{Detections: []Detection{
			{Label: "Hose Wear", Location: "top-left", Confidence: 0.914},
			{Label: "Corrosion", Location: "bottom-right", Confidence: 0.5},
		}}, nil)
		assert.Equal(t, "[System: image analysis]\nDetected in the attached image:\n"+
			"- Hose Wear at top-left (confidence 0.91)\n"+
			"- Corrosion at bottom-right (confidence 0.50)", got)
	})

	t.Run("no issues", func(t *testing.T) {
		got := Annotate(Result{}, nil)
		assert.Equal(t, "[System: image analysis]\nNo issues were detected in the attached image.", got)
	})

	t.Run("error", func(t *testing.T) {
		got := Annotate(Result{}, errors.New("connection refused"))
		assert.Contains(t, got, AnnotationHeader)
		assert.Contains(t, got, "could not be analyzed: connection refused")
	})

	t.Run("deterministic", func(t *testing.T) {
		res := Result{Detections: []Detection{{Label: "A", Location: "top-left", Confidence: 0.3}}}
		assert.Equal(t, Annotate(res, nil), Annotate(res, nil))
	})
}

func TestAppendAnnotation(t *testing.T) {
	assert.Equal(t, "Leak here\n\n[System: image analysis]", AppendAnnotation("Leak here\n", AnnotationHeader))
	assert.Equal(t, AnnotationHeader, AppendAnnotation("", AnnotationHeader))
}
