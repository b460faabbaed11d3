package client

import (
	"log"
	"os"

	"github.com/google/uuid"
)

// debugEnabled mirrors thicc's "Session client: %s" log.Printf convention
// (internal/session/client.go): off by default, since the client shares
// stdout/stderr with the attached terminal and the default logger would
// otherwise write straight into it.
var debugEnabled bool

// EnableDebug turns on debug logging and points the default logger at
// logPath, the same -debug behavior thicc's cmd/thicc flag gives its own
// log.Printf calls.
func EnableDebug(logPath string) error {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	log.SetOutput(f)
	debugEnabled = true
	return nil
}

func newRunID() string {
	return uuid.New().String()[:8]
}

func (c *Context) debugf(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	if c.runID == "" {
		c.runID = newRunID()
	}
	log.Printf("dmux client [%s]: "+format, append([]interface{}{c.runID}, args...)...)
}
