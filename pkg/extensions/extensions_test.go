// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.IsType(t, &NopAuthProvider{}, opts.AuthProvider)
	assert.IsType(t, &NopAuditLogger{}, opts.AuditLogger)
}

func TestServiceOptions_Normalize(t *testing.T) {
	opts := ServiceOptions{}.Normalize()
	assert.NotNil(t, opts.AuthProvider)
	assert.NotNil(t, opts.AuditLogger)

	keys, err := NewAPIKeyProvider(APIKey{Key: "k"})
	require.NoError(t, err)
	opts = ServiceOptions{}.WithAuth(keys).Normalize()
	assert.Same(t, keys, opts.AuthProvider)
}

func TestNopAuthProvider_Validate(t *testing.T) {
	info, err := (&NopAuthProvider{}).Validate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "local", info.ClientID)
	assert.True(t, info.HasRole("admin"))
}

func TestAPIKeyProvider_Validate(t *testing.T) {
	p, err := NewAPIKeyProvider(
		APIKey{Key: "gateway-key", ClientID: "whatsapp-gateway"},
		APIKey{Key: "console-key", ClientID: "console", Roles: []string{"admin"}},
	)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		client  string
		admin   bool
		wantErr bool
	}{
		{name: "gateway key", token: "gateway-key", client: "whatsapp-gateway"},
		{name: "admin key", token: "console-key", client: "console", admin: true},
		{name: "unknown key", token: "nope", wantErr: true},
		{name: "empty token", token: "", wantErr: true},
		{name: "prefix of key", token: "gateway", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info, err := p.Validate(context.Background(), tc.token)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.Nil(t, info)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.client, info.ClientID)
			assert.Equal(t, tc.admin, info.HasRole("admin"))
		})
	}
}

func TestAPIKeyProvider_RolesAreCopied(t *testing.T) {
	p, err := NewAPIKeyProvider(APIKey{Key: "k", ClientID: "c", Roles: []string{"admin"}})
	require.NoError(t, err)

	info, err := p.Validate(context.Background(), "k")
	require.NoError(t, err)
	info.Roles[0] = "viewer"

	again, err := p.Validate(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, again.HasRole("admin"))
}

func TestNewAPIKeyProvider_RejectsEmptyKey(t *testing.T) {
	_, err := NewAPIKeyProvider(APIKey{Key: "ok"}, APIKey{Key: ""})
	assert.ErrorContains(t, err, "api key 1")
}

func TestAuthInfo_HasRoleNil(t *testing.T) {
	var info *AuthInfo
	assert.False(t, info.HasRole("admin"))
}

func TestSlogAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := logger.Log(context.Background(), AuditEvent{
		EventType: EventSessionDelete,
		ClientID:  "console",
		UserID:    "5511999990000",
		Outcome:   "success",
		Metadata:  map[string]any{"conversation_id": "c-1"},
	})
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	audit, ok := record["audit"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, EventSessionDelete, audit["event_type"])
	assert.Equal(t, "console", audit["client_id"])
	assert.Equal(t, "c-1", audit["conversation_id"])
	assert.NotEmpty(t, audit["timestamp"])
}

func TestSlogAuditLogger_RequiresEventType(t *testing.T) {
	logger := NewSlogAuditLogger(nil)
	assert.Error(t, logger.Log(context.Background(), AuditEvent{}))
}

func TestNopAuditLogger_Log(t *testing.T) {
	assert.NoError(t, (&NopAuditLogger{}).Log(context.Background(), AuditEvent{}))
}
