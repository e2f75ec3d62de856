package transcode

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteMasterPlaylistReferencesEachRendition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "master.m3u8")
	renditions := []Rendition{
		{Name: "1080p", Height: 1080},
		{Name: "720p", Height: 720},
	}

	if err := writeMasterPlaylist(path, renditions, nil, dir); err != nil {
		t.Fatalf("writeMasterPlaylist: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read master playlist: %v", err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "#EXTM3U") {
		t.Fatal("expected playlist to start with #EXTM3U")
	}
	if !strings.Contains(content, "1080p/playlist.m3u8") || !strings.Contains(content, "720p/playlist.m3u8") {
		t.Fatal("expected playlist to reference both renditions")
	}
}

func TestEstimateBandwidthMatchesLadder(t *testing.T) {
	if got := estimateBandwidth(1080); got != 8000*1000 {
		t.Fatalf("expected 1080p ladder bitrate, got %d", got)
	}
	if got := estimateBandwidth(9999); got <= 0 {
		t.Fatalf("expected a positive fallback bandwidth, got %d", got)
	}
}
