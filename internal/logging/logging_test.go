// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{" WARN ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nutrichat.log")
	logger, atom, err := New(Config{Level: "info", File: path, JSON: true})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("stream opened", zap.String("path", "/api/chat/stream"))

	require.NoError(t, SetLevel(atom, "debug"))
	logger.Debug("now visible")
	_ = logger.Sync()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var msgs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		msgs = append(msgs, line["msg"].(string))
	}
	assert.Equal(t, []string{"stream opened", "now visible"}, msgs)
}

func TestNew_BadLevel(t *testing.T) {
	_, _, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestSetLevel_Invalid(t *testing.T) {
	atom := zap.NewAtomicLevelAt(zapcore.WarnLevel)
	assert.Error(t, SetLevel(atom, "nope"))
	assert.Equal(t, zapcore.WarnLevel, atom.Level())
}
