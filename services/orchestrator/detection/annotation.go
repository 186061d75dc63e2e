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
	"fmt"
	"strings"
)

// AnnotationHeader opens every annotation block.
const AnnotationHeader = "[System: image analysis]"

// Annotate renders the block appended to a user message that carried an
// image. Output is deterministic for a given result: detections keep the
// order the model returned them in.
func Annotate(res Result, err error) string {
	var b strings.Builder
	b.WriteString(AnnotationHeader)
	b.WriteString("\n")

	switch {
	case err != nil:
		b.WriteString("The attached image could not be analyzed: ")
		b.WriteString(err.Error())
	case len(res.Detections) == 0:
		b.WriteString("No issues were detected in the attached image.")
	default:
		b.WriteString("Detected in the attached image:")
		for _, d := range res.Detections {
			if d.Location == UnknownLocation {
				fmt.Fprintf(&b, "\n- %s, location unknown (confidence %.2f)", d.Label, d.Confidence)
				continue
			}
			fmt.Fprintf(&b, "\n- %s at %s (confidence %.2f)", d.Label, d.Location, d.Confidence)
		}
		if res.AnnotatedImageURL != "" {
			b.WriteString("\nAnnotated image: ")
			b.WriteString(res.AnnotatedImageURL)
		}
	}
	return b.String()
}

// AppendAnnotation joins message and annotation with a blank line.
func AppendAnnotation(message, annotation string) string {
	message = strings.TrimRight(message, "\n ")
	if message == "" {
		return annotation
	}
	return message + "\n\n" + annotation
}
