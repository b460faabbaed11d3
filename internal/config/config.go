// Package config resolves where a dmux client looks for the server's
// socket. spec.md treats "configuration" as an external collaborator
// (§1); this is the minimal slice of it the client actually needs: the
// directory a session name turns into a socket path under.
package config

import (
	"errors"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
)

// SocketDir is the resolved directory session sockets live under.
var SocketDir string

// InitSocketDir finds the directory dmux sockets live in, following the
// same env-var-then-XDG-then-homedir fallback chain thicc's InitConfigDir
// uses for its own config directory, retargeted to dmux's own env vars.
// If no directory is found, it creates one.
func InitSocketDir(flagSocketDir string) error {
	var warning error

	dir := os.Getenv("DMUX_SOCKET_DIR")
	if dir == "" {
		xdgRuntime := os.Getenv("XDG_RUNTIME_DIR")
		if xdgRuntime == "" {
			home, err := homedir.Dir()
			if err != nil {
				return errors.New("error finding your home directory\ncan't resolve socket dir: " + err.Error())
			}
			xdgRuntime = home
		}
		dir = filepath.Join(xdgRuntime, ".dmux")
	}
	SocketDir = dir

	if len(flagSocketDir) > 0 {
		if _, err := os.Stat(flagSocketDir); os.IsNotExist(err) {
			warning = errors.New("error: " + flagSocketDir + " does not exist, defaulting to " + SocketDir)
		} else {
			SocketDir = flagSocketDir
			return nil
		}
	}

	if err := os.MkdirAll(SocketDir, 0700); err != nil {
		return errors.New("error creating socket directory: " + err.Error())
	}

	return warning
}

// SocketPath returns the socket path for a named session.
func SocketPath(name string) string {
	return filepath.Join(SocketDir, name+".sock")
}
