// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves the nutrichat configuration.
//
// Configuration is TOML, with defaults for every key, environment variable
// overrides and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (NUTRICHAT_*)
//   - ~/.nutrichat/config.toml (or the --config path)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.StreamTimeout()
//
// Watch reloads the file on change; the chat REPL uses it to apply log level
// edits without a restart.
package config
