// Package logger routes the standard logger to stdout, a rotating file and an
// in-memory ring for the admin log view.
package logger

import (
	"io"
	"log"
	"os"
)

// Setup installs the writers on the standard logger and returns the ring
// so handlers can query recent lines. An unusable log file degrades to
// stdout and the ring only.
func Setup(filename string, maxSizeMB int64, maxBackups, bufferSize int) (*Ring, io.Closer) {
	ring := NewRing(bufferSize)
	writers := []io.Writer{os.Stdout, ring}

	var closer io.Closer = nopCloser{}
	if filename != "" {
		rot, err := NewRotator(filename, maxSizeMB, maxBackups)
		if err != nil {
			log.Printf("WARN: failed to open log file %s, using stdout only: %v", filename, err)
		} else {
			writers = append(writers, rot)
			closer = rot
		}
	}

	log.SetOutput(io.MultiWriter(writers...))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return ring, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
