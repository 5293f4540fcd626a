// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// nutrichat is a terminal client for the NutriChat diet coach.
package main

import (
	"os"

	"github.com/jeranaias/nutrichat/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
