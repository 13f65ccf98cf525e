package build

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is how many rotated files are kept.
	DefaultMaxLogFiles = 10

	// DefaultMaxLogFileSize is the size in MB at which the file rotates.
	DefaultMaxLogFileSize = 20

	// DefaultLogFilename is the daemon's log file name.
	DefaultLogFilename = "labelerd.log"
)

// RotatorConfig places and sizes the log file.
type RotatorConfig struct {
	Dir string

	// MaxFiles is the number of rotated files kept. Zero keeps a single
	// file that is never rotated away.
	MaxFiles int

	// MaxFileSizeMB is the rotation threshold.
	MaxFileSizeMB int

	// Filename defaults to DefaultLogFilename.
	Filename string
}

// RotatingLogWriter is an io.Writer feeding a gzip-compressing
// jrick/logrotate rotator through a pipe.
type RotatingLogWriter struct {
	pipe *io.PipeWriter
	done chan struct{}
}

// NewRotatingLogWriter creates the log directory and starts the rotator.
func NewRotatingLogWriter(cfg RotatorConfig) (*RotatingLogWriter, error) {
	name := cfg.Filename
	if name == "" {
		name = DefaultLogFilename
	}
	size := cfg.MaxFileSizeMB
	if size <= 0 {
		size = DefaultMaxLogFileSize
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	// The rotator takes its threshold in KB.
	r, err := rotator.New(
		filepath.Join(cfg.Dir, name), int64(size*1024), false,
		cfg.MaxFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("create log rotator: %w", err)
	}
	r.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	w := &RotatingLogWriter{pipe: pw, done: make(chan struct{})}

	go func() {
		defer close(w.done)

		// Run returns io.EOF once the pipe is closed. Anything else is
		// reported on stderr since the rotator is the log sink.
		err := r.Run(pr)
		if err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "log rotator stopped: %v\n", err)
		}
		r.Close()
		pr.Close()
	}()

	return w, nil
}

// Write implements io.Writer.
func (w *RotatingLogWriter) Write(b []byte) (int, error) {
	return w.pipe.Write(b)
}

// Close flushes the pipe and waits for the rotator to finish writing.
func (w *RotatingLogWriter) Close() error {
	err := w.pipe.Close()
	<-w.done

	return err
}
