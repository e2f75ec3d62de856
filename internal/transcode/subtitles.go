package transcode

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/BleedingXiko/GhostStream/internal/jobs"
	"github.com/BleedingXiko/GhostStream/internal/logger"
	"github.com/BleedingXiko/GhostStream/internal/util"
)

// FetchedSubtitle is one subtitle track that survived being fetched into the
// job's working directory.
type FetchedSubtitle struct {
	Language string
	Default  bool
	Path     string // absolute path under workingDir/subs/
}

// FetchSubtitles downloads every track in tracks to
// workingDir/subs/NN_<language>.vtt and returns the resulting on-disk tracks in request order. A track that
// fails to fetch is skipped with a warning rather than failing the whole
// job — a missing caption track is not fatal to playback (§4.5.2).
func FetchSubtitles(client *http.Client, workingDir string, tracks []jobs.SubtitleTrack) []FetchedSubtitle {
	if len(tracks) == 0 {
		return nil
	}
	out := make([]FetchedSubtitle, 0, len(tracks))
	for i, t := range tracks {
		dst := filepath.Join(workingDir, "subs", fmt.Sprintf("%02d_%s.vtt", i, t.Language))
		if err := fetchToFile(client, t.URL, dst); err != nil {
			logger.Warn("subtitle fetch failed, skipping track", "language", t.Language, "url", t.URL, "error", err)
			continue
		}
		out = append(out, FetchedSubtitle{Language: t.Language, Default: t.Default, Path: dst})
	}
	return out
}

func fetchToFile(client *http.Client, url, dst string) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subtitle fetch: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(dst, body, 0o644)
}

// subtitleMediaTags renders the EXT-X-MEDIA lines the master playlist needs
// to reference each fetched subtitle track (§4.7).
func subtitleMediaTags(subs []FetchedSubtitle, workingDir string) []string {
	if len(subs) == 0 {
		return nil
	}
	lines := make([]string, 0, len(subs))
	for i, s := range subs {
		rel, err := filepath.Rel(workingDir, s.Path)
		if err != nil {
			rel = filepath.Base(s.Path)
		}
		defaultAttr := "NO"
		if s.Default {
			defaultAttr = "YES"
		}
		lines = append(lines, fmt.Sprintf(
			`#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="%s",LANGUAGE="%s",DEFAULT=%s,AUTOSELECT=YES,URI="%s"`,
			s.Language, s.Language, defaultAttr, rel))
		_ = i
	}
	return lines
}

// defaultSubtitleFetchTimeout bounds each subtitle download so a slow or
// hung caption host can't stall job startup.
const defaultSubtitleFetchTimeout = 15 * time.Second

// NewSubtitleFetchClient returns an http.Client scoped to subtitle fetches.
func NewSubtitleFetchClient() *http.Client {
	return &http.Client{Timeout: defaultSubtitleFetchTimeout}
}
