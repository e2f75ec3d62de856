// Package hlsserver implements the Playlist/Segment Server (C7, §4.7):
// serving each job's HLS output (master and media playlists, .ts segments)
// and batch-mode's single output file straight off disk. Every requested
// path is resolved and checked against the job's own working directory
// before being served, so a request can never escape it.
package hlsserver

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BleedingXiko/GhostStream/internal/jobs"
)

// Server serves the on-disk artifacts of every job under its working
// directory.
type Server struct {
	Registry *jobs.Registry
}

// NewServer wraps registry.
func NewServer(registry *jobs.Registry) *Server {
	return &Server{Registry: registry}
}

// Register mounts the stream and download routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /stream/{id}/{path...}", s.serveArtifact)
	mux.HandleFunc("GET /api/transcode/{id}/download", s.serveDownload)
}

// serveArtifact serves a playlist or segment file under a job's working
// directory (§6: GET /stream/{id}/master.m3u8, GET /stream/{id}/{segment}).
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sub := r.PathValue("path")

	job, err := s.Registry.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if job.WorkingDir == "" {
		http.NotFound(w, r)
		return
	}

	full, ok := resolveWithinRoot(job.WorkingDir, sub)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	setContentType(w, full)
	http.ServeFile(w, r, full)
}

// serveDownload serves a batch job's completed output file.
func (s *Server) serveDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.Registry.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if job.Status != jobs.StatusReady || job.WorkingDir == "" {
		http.Error(w, "job not ready", http.StatusConflict)
		return
	}

	full, ok := resolveWithinRoot(job.WorkingDir, "output"+filepath.Ext(job.DownloadURL))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if _, err := os.Stat(full); err != nil {
		// batch outputs may use any container extension; fall back to a
		// directory scan for the single "output.*" file instead of guessing.
		entries, derr := os.ReadDir(job.WorkingDir)
		if derr != nil {
			http.NotFound(w, r)
			return
		}
		found := ""
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), "output.") {
				found = e.Name()
				break
			}
		}
		if found == "" {
			http.NotFound(w, r)
			return
		}
		full = filepath.Join(job.WorkingDir, found)
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(full)+"\"")
	http.ServeFile(w, r, full)
}

// resolveWithinRoot joins root and sub, then verifies the cleaned absolute
// result still lives under root. Unlike a bare strings.HasPrefix check on
// the raw path (which a sibling directory sharing root as a string prefix
// can defeat, e.g. "/data/jobs1" vs "/data/jobs12"), this checks the
// boundary falls exactly at a path separator.
func resolveWithinRoot(root, sub string) (string, bool) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", false
	}
	joined := filepath.Join(absRoot, sub)
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", false
	}
	if absJoined == absRoot {
		return absJoined, true
	}
	if strings.HasPrefix(absJoined, absRoot+string(filepath.Separator)) {
		return absJoined, true
	}
	return "", false
}

func setContentType(w http.ResponseWriter, path string) {
	switch filepath.Ext(path) {
	case ".m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	case ".ts":
		w.Header().Set("Content-Type", "video/mp2t")
	}
}
