// Package cmd implements the harrier CLI subcommands.
package cmd

import (
	"grimm.is/harrier/internal/i18n"
)

// Printer is the locale-aware printer used for all CLI output.
var Printer = i18n.NewCLIPrinter()
