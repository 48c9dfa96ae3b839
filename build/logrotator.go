package build

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrick/logrotate/rotator"
)

// LogFile is the daemon's rolling log file. Log lines are fed to the rotator
// through a pipe so that a full disk or a failed roll never blocks a logging
// subsystem. A nil *LogFile discards everything written to it.
type LogFile struct {
	rotator *rotator.Rotator
	pipe    *io.PipeWriter

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// OpenLogFile creates the directory of path if needed and starts a rotator
// writing to it. Rolled files are gzipped next to the live file. The returned
// LogFile must be closed on shutdown to flush pending lines.
func OpenLogFile(path string, cfg *FileLoggerConfig) (*LogFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(
		path, int64(cfg.MaxLogFileSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}
	r.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	f := &LogFile{
		rotator: r,
		pipe:    pw,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(f.done)

		err := r.Run(pr)
		if err != nil && !errors.Is(err, io.EOF) {
			_, _ = fmt.Fprintf(os.Stderr, "log rotator stopped: %v\n",
				err)

			// Unblock writers, the lines are lost either way.
			_ = pr.CloseWithError(err)
		}
	}()

	return f, nil
}

// Write hands b to the rotator.
func (f *LogFile) Write(b []byte) (int, error) {
	if f == nil {
		return len(b), nil
	}

	return f.pipe.Write(b)
}

// Close flushes the pipe, waits for the rotator to drain it and closes the
// file. It is safe to call more than once.
func (f *LogFile) Close() error {
	if f == nil {
		return nil
	}

	f.closeOnce.Do(func() {
		_ = f.pipe.Close()
		<-f.done
		f.closeErr = f.rotator.Close()
	})

	return f.closeErr
}
