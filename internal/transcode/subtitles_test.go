package transcode

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BleedingXiko/GhostStream/internal/jobs"
)

func TestFetchSubtitlesWritesTracksAndSkipsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("WEBVTT\n\n1\n00:00:00.000 --> 00:00:01.000\nhello\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	tracks := []jobs.SubtitleTrack{
		{Language: "en", URL: srv.URL + "/en.vtt", Default: true},
		{Language: "fr", URL: srv.URL + "/missing.vtt"},
	}

	got := FetchSubtitles(NewSubtitleFetchClient(), dir, tracks)
	if len(got) != 1 {
		t.Fatalf("expected 1 fetched subtitle after one failure, got %d", len(got))
	}
	if got[0].Language != "en" || !got[0].Default {
		t.Fatalf("unexpected fetched subtitle: %+v", got[0])
	}
	if _, err := os.Stat(got[0].Path); err != nil {
		t.Fatalf("expected subtitle file on disk: %v", err)
	}
}

func TestSubtitleMediaTagsRendersEntryPerTrack(t *testing.T) {
	dir := t.TempDir()
	subs := []FetchedSubtitle{
		{Language: "en", Default: true, Path: filepath.Join(dir, "subs", "00_en.vtt")},
	}
	lines := subtitleMediaTags(subs, dir)
	if len(lines) != 1 {
		t.Fatalf("expected 1 media tag, got %d", len(lines))
	}
	if !strings.Contains(lines[0], `LANGUAGE="en"`) || !strings.Contains(lines[0], "DEFAULT=YES") {
		t.Fatalf("unexpected media tag: %s", lines[0])
	}
}

func TestSubtitleMediaTagsEmptyForNoTracks(t *testing.T) {
	if got := subtitleMediaTags(nil, "/tmp"); got != nil {
		t.Fatalf("expected nil for no tracks, got %v", got)
	}
}
