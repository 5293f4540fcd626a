// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/nutrichat/internal/util"
)

// Config selects level, destination and encoding.
type Config struct {
	// Level is a level name: debug, info, warn or error. Empty means info.
	Level string
	// File receives log output; empty means stderr.
	File string
	// JSON switches from the console encoder to JSON lines.
	JSON bool
}

// ParseLevel converts a level name.
func ParseLevel(name string) (zapcore.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// New builds a logger. The returned AtomicLevel changes the level of the live
// logger.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	atom := zap.NewAtomicLevelAt(level)

	zc := zap.NewProductionConfig()
	zc.Level = atom
	zc.Sampling = nil
	zc.DisableStacktrace = true
	zc.Encoding = "console"
	zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	if cfg.JSON {
		zc.Encoding = "json"
		zc.EncoderConfig = zap.NewProductionEncoderConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	if cfg.File != "" {
		path := util.ExpandHome(cfg.File)
		if err := os.MkdirAll(filepath.Dir(path), util.PrivateDirPerm); err != nil {
			return nil, zap.AtomicLevel{}, fmt.Errorf("create log directory: %w", err)
		}
		zc.OutputPaths = []string{path}
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, atom, nil
}

// SetLevel parses name and applies it to atom.
func SetLevel(atom zap.AtomicLevel, name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	atom.SetLevel(level)
	return nil
}
