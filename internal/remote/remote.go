// Package remote defines the engine's view of a device's remote side: a
// file-transfer session and an optional dial-up link. The protocol client
// and the PPP driver are external collaborators; this package pins down
// their interfaces and ships the FTP implementation.
package remote

import (
	"io"
	"time"

	"github.com/tbracken/gridpoll/internal/models"
)

// FileInfo describes one remote directory entry.
type FileInfo struct {
	Name  string
	Size  int64
	Time  time.Time
	IsDir bool
}

// Session is one connection to a device. Implementations are not safe for
// concurrent use; the cooperative thread model guarantees serial access.
type Session interface {
	// Connect establishes the session, honoring the profile's
	// connection timeout.
	Connect() error
	// List returns the entries of a remote directory.
	List(dir string) ([]FileInfo, error)
	// Retrieve streams a remote file into dst and returns the byte count.
	Retrieve(path string, dst io.Writer) (int64, error)
	// Delete removes a remote file.
	Delete(path string) error
	// Close tears the session down. Safe to call when never connected.
	Close() error
}

// Factory builds a session for a device's connection options. A new
// session is created per run.
type Factory func(opts models.ConnectionOptions) Session

// Dialer drives the dial-up link shared by devices bound to the same
// entry name. The default implementation reports no modem hardware.
type Dialer interface {
	// Dial raises the link for the named entry within timeout.
	Dial(entryName string, timeout time.Duration) error
	// HangUp drops the link. Best effort.
	HangUp(entryName string) error
}

// NoModemDialer is the Dialer used when no dial-up hardware is configured.
type NoModemDialer struct{}

// Dial implements Dialer.
func (NoModemDialer) Dial(entryName string, timeout time.Duration) error {
	return &NoModemError{Entry: entryName}
}

// HangUp implements Dialer.
func (NoModemDialer) HangUp(entryName string) error { return nil }

// NoModemError reports a dial attempt without modem hardware.
type NoModemError struct {
	Entry string
}

func (e *NoModemError) Error() string {
	return "no dial-up hardware available for entry " + e.Entry
}
