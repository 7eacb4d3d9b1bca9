package proc

import (
	"bufio"
	"os"
	"path/filepath"
	"sync"
)

// logWriter drains lines into a file from a dedicated goroutine so a slow
// disk backs up into the channel buffer instead of the child's pipes.
type logWriter struct {
	ch        chan string
	closeOnce sync.Once
	finished  chan struct{}
}

const logWriterBuffer = 4096

func newLogWriter(path string) (*logWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	// Append so a resumed or relaunched run keeps earlier output.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- path comes from the simulation record
	if err != nil {
		return nil, err
	}

	w := &logWriter{
		ch:       make(chan string, logWriterBuffer),
		finished: make(chan struct{}),
	}

	go func() {
		defer close(w.finished)
		buf := bufio.NewWriter(f)
		for line := range w.ch {
			_, _ = buf.WriteString(line)
			_ = buf.WriteByte('\n')
			if len(w.ch) == 0 {
				_ = buf.Flush()
			}
		}
		_ = buf.Flush()
		_ = f.Sync()
		_ = f.Close()
	}()

	return w, nil
}

// WriteLine queues one line for the writer goroutine.
func (w *logWriter) WriteLine(line string) {
	w.ch <- line
}

// Close stops the writer after flushing everything already queued.
func (w *logWriter) Close() {
	w.closeOnce.Do(func() {
		close(w.ch)
	})
	<-w.finished
}
