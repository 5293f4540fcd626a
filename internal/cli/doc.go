// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the nutrichat command line.
//
// # Commands
//
//   - chat: interactive REPL that streams replies as they arrive
//   - login, logout: manage the stored access token
//   - unlock enroll|disable: one-time-code gate in front of chat
//   - config show|init: inspect or create the configuration file
//
// The root command loads configuration and builds the logger; commands that
// talk to the backend then open the credential store and construct the API
// client, auth service and chat session. All dependencies are created here
// and passed down.
//
// # Usage
//
//	os.Exit(cli.Execute())
package cli
