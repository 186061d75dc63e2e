// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command fieldassist runs the FieldAssist equipment support service.
//
// # Usage
//
//	# Write a starter configuration
//	fieldassist config init --config /etc/fieldassist/fieldassist.yaml
//
//	# Provision one assistant per phase and paste the ids into the file
//	fieldassist assistants setup
//
//	# Serve
//	fieldassist serve --port 12210
//
//	# Talk to it from another terminal
//	fieldassist chat --user tech-42
//
// # Environment Variables
//
//   - FIELDASSIST_CONFIG, FIELDASSIST_PORT, FIELDASSIST_LOG_LEVEL: flag overrides
//   - FIELDASSIST_API_KEY: bearer token used by `fieldassist chat`
//   - OPENAI_API_KEY: engine and embedding credentials
//     (or the /run/secrets/openai_api_key file)
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
