package utils

import "io"

// maxDrain bounds how much of an unread body is consumed before closing.
const maxDrain = 64 << 10

// DrainAndClose reads what is left of a small body so the transport can reuse
// the connection, then closes it. Larger bodies are closed without draining.
func DrainAndClose(rc io.ReadCloser) error {
	if rc == nil {
		return nil
	}
	_, _ = io.CopyN(io.Discard, rc, maxDrain)
	return rc.Close()
}
