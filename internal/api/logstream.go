package api

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// handleLogStream follows the simulation log over SSE, sending each new line
// as a "log" event. The watcher covers the log's directory so the stream
// also picks the file up when it appears after the client connects.
func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	sim, err := s.supervisor.Get(r.Context(), simulationID(r))
	if err != nil {
		respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorStatus(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		respondErrorStatus(w, http.StatusInternalServerError, "watcher unavailable: "+err.Error())
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(sim.LogPath)); err != nil {
		respondErrorStatus(w, http.StatusInternalServerError, "cannot watch log directory: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	ctx := r.Context()

	var (
		file   *os.File
		reader *bufio.Reader
	)
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	open := func() {
		f, oerr := os.Open(sim.LogPath)
		if oerr != nil {
			return
		}
		file = f
		reader = bufio.NewReader(f)
	}
	open()

	emit := func() {
		if reader == nil {
			return
		}
		for {
			line, rerr := reader.ReadString('\n')
			if line != "" {
				s.sendSSEEvent(w, flusher, "log", map[string]string{
					"simulation_id": string(sim.ID),
					"line":          line,
				})
			}
			if rerr != nil {
				if rerr != io.EOF {
					s.logger.Warn("log stream read failed", "simulation_id", sim.ID, "error", rerr)
				}
				return
			}
		}
	}
	emit()

	// Poll as a fallback for filesystems where the watcher misses appends.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != sim.LogPath {
				continue
			}
			if file == nil && event.Op.Has(fsnotify.Create) {
				open()
			}
			emit()

		case werr, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("log watcher error", "simulation_id", sim.ID, "error", werr)

		case <-ticker.C:
			if file == nil {
				open()
			}
			emit()
		}
	}
}
