// Package cmd defines the command line flags and directory defaults shared
// across the node's sub-commands.
package cmd

import (
	"path/filepath"
	"runtime"

	"github.com/taraxa-go/taraxa-node/shared/fileutil"
)

// DefaultDataDir is the default data directory for the node's store,
// wallet, and genesis file.
func DefaultDataDir() string {
	home := fileutil.HomeDir()
	if home == "" {
		return ""
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Taraxa")
	case "windows":
		return filepath.Join(home, "AppData", "Local", "Taraxa")
	default:
		return filepath.Join(home, ".taraxa")
	}
}
