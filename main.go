// Copyright 2025 Sylos contributors
// SPDX-License-Identifier: LGPL-2.1-or-later

package main

import "github.com/Project-Sylos/Graph-Migrator/internal/cli"

func main() {
	cli.Execute()
}
