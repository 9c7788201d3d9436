package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// YtDlpConfig configures the yt-dlp wrapper.
type YtDlpConfig struct {
	Binary      string
	CookiesFile string
	MediaDir    string
}

// YtDlp downloads reels and resolves their platform ids with the yt-dlp CLI.
type YtDlp struct {
	binary   string
	cookies  string
	mediaDir string
	run      Runner
	logger   *zap.Logger
}

// NewYtDlp builds the wrapper. A cookies file that does not exist is ignored.
func NewYtDlp(cfg YtDlpConfig, logger *zap.Logger) *YtDlp {
	binary := cfg.Binary
	if binary == "" {
		binary = "yt-dlp"
	}
	return &YtDlp{
		binary:   binary,
		cookies:  cfg.CookiesFile,
		mediaDir: cfg.MediaDir,
		run:      execRunner,
		logger:   logger,
	}
}

func (y *YtDlp) baseArgs() []string {
	args := []string{"--quiet", "--no-warnings"}
	if y.cookies != "" {
		if _, err := os.Stat(y.cookies); err == nil {
			args = append(args, "--cookies", y.cookies)
		}
	}
	return args
}

// Fetch downloads the video behind url into the media directory and returns
// its path.
func (y *YtDlp) Fetch(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(y.mediaDir, 0o755); err != nil {
		return "", &FetchError{URL: url, Err: err}
	}

	name := uuid.New().String()
	args := append(y.baseArgs(),
		"-f", "best",
		"-o", filepath.Join(y.mediaDir, name+".%(ext)s"),
		url,
	)

	y.logger.Info("downloading reel", zap.String("url", url))
	out, err := y.run(ctx, y.binary, args...)
	if err != nil {
		return "", &FetchError{URL: url, Err: fmt.Errorf("yt-dlp failed: %w: %s", err, tail(out, 500))}
	}

	matches, err := filepath.Glob(filepath.Join(y.mediaDir, name+".*"))
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	sort.Strings(matches)
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m, nil
		}
	}
	return "", &FetchError{URL: url, Err: errors.New("download finished but no media file was written")}
}

// ID asks yt-dlp for the platform-native id of url without downloading.
func (y *YtDlp) ID(ctx context.Context, url string) (string, error) {
	args := append(y.baseArgs(), "--skip-download", "--print", "id", url)
	out, err := y.run(ctx, y.binary, args...)
	if err != nil {
		return "", fmt.Errorf("yt-dlp id lookup: %w: %s", err, tail(out, 300))
	}
	id := strings.TrimSpace(string(out))
	if i := strings.LastIndexByte(id, '\n'); i >= 0 {
		id = strings.TrimSpace(id[i+1:])
	}
	if id == "" {
		return "", errors.New("yt-dlp returned no id")
	}
	return id, nil
}

var shortcodePattern = regexp.MustCompile(`instagram\.com/(?:[^/?#]+/)?(?:reels?|p|tv)/([A-Za-z0-9_-]+)`)

// IDResolver maps a post URL to its platform-native id.
type IDResolver struct {
	ytdlp *YtDlp
}

// NewIDResolver returns a resolver. ytdlp may be nil to disable the network
// fallback.
func NewIDResolver(ytdlp *YtDlp) *IDResolver {
	return &IDResolver{ytdlp: ytdlp}
}

// Resolve parses the shortcode out of url, falling back to yt-dlp for links
// the pattern does not cover.
func (r *IDResolver) Resolve(ctx context.Context, url string) (string, error) {
	if id := Shortcode(url); id != "" {
		return id, nil
	}
	if r.ytdlp == nil {
		return "", fmt.Errorf("no id in %s", url)
	}
	return r.ytdlp.ID(ctx, url)
}

// Shortcode extracts an Instagram shortcode from url, or returns "".
func Shortcode(url string) string {
	m := shortcodePattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// IsPost reports whether url points at an image post rather than a reel.
func IsPost(url string) bool {
	return strings.Contains(url, "/p/")
}
