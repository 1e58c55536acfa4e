// Package platform resolves per-OS locations of the editor's files and
// controls the editor process.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	appDirName   = "agent-keeper"
	hostDirName  = "Antigravity"
	stateDBName  = "state.vscdb"
	accountsName = "accounts"
)

// DefaultStatePath returns the editor's primary state file:
//
//	linux:   ~/.config/Antigravity/User/globalStorage/state.vscdb
//	darwin:  ~/Library/Application Support/Antigravity/User/globalStorage/state.vscdb
//	windows: %APPDATA%\Antigravity\User\globalStorage\state.vscdb
func DefaultStatePath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, hostDirName, "User", "globalStorage", stateDBName), nil
}

// DefaultDataDir returns the directory for this program's own files.
func DefaultDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, appDirName), nil
}

// AccountsDir returns the account repository directory under dataDir.
func AccountsDir(dataDir string) string { return filepath.Join(dataDir, accountsName) }

// DefaultProcessName is the editor's process image name on this OS.
func DefaultProcessName() string {
	switch runtime.GOOS {
	case "windows":
		return "Antigravity.exe"
	case "darwin":
		return "Antigravity"
	default:
		return "antigravity"
	}
}

// DefaultLaunchCommand is the command line that starts the editor on this OS.
func DefaultLaunchCommand() []string {
	switch runtime.GOOS {
	case "windows":
		local := os.Getenv("LOCALAPPDATA")
		return []string{filepath.Join(local, "Programs", hostDirName, "Antigravity.exe")}
	case "darwin":
		return []string{"open", "-a", hostDirName}
	default:
		return []string{"antigravity"}
	}
}
