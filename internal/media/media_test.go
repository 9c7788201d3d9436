package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

func TestShortcode(t *testing.T) {
	tests := map[string]string{
		"https://www.instagram.com/reel/C8abc_12-x/":            "C8abc_12-x",
		"https://instagram.com/reels/XYZ123/?igsh=abc":           "XYZ123",
		"https://www.instagram.com/p/Post42/":                   "Post42",
		"https://www.instagram.com/someuser/reel/UserReel9/":    "UserReel9",
		"https://www.instagram.com/tv/TV1/":                     "TV1",
		"https://www.instagram.com/stories/someone/1234567890/": "",
		"https://example.com/reel/abc":                          "",
	}
	for url, want := range tests {
		assert.Equal(t, want, Shortcode(url), url)
	}
}

func TestIsPost(t *testing.T) {
	assert.True(t, IsPost("https://www.instagram.com/p/abc/"))
	assert.False(t, IsPost("https://www.instagram.com/reel/abc/"))
}

func TestIDResolver_FallsBackToYtDlp(t *testing.T) {
	y := NewYtDlp(YtDlpConfig{}, zap.NewNop())
	var gotArgs []string
	y.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte("some warning\n3312345678901234567\n"), nil
	}
	r := NewIDResolver(y)

	id, err := r.Resolve(context.Background(), "https://www.instagram.com/reel/ABC/")
	require.NoError(t, err)
	assert.Equal(t, "ABC", id)
	assert.Nil(t, gotArgs, "shortcode URLs never shell out")

	id, err = r.Resolve(context.Background(), "https://www.instagram.com/share/xyz")
	require.NoError(t, err)
	assert.Equal(t, "3312345678901234567", id)
	assert.Contains(t, gotArgs, "--skip-download")
}

func TestIDResolver_NoFallback(t *testing.T) {
	_, err := NewIDResolver(nil).Resolve(context.Background(), "https://www.instagram.com/share/xyz")
	assert.Error(t, err)
}

func TestYtDlp_Fetch(t *testing.T) {
	dir := t.TempDir()
	cookies := filepath.Join(dir, "cookies.txt")
	require.NoError(t, os.WriteFile(cookies, []byte("# Netscape"), 0o644))

	y := NewYtDlp(YtDlpConfig{MediaDir: filepath.Join(dir, "media"), CookiesFile: cookies}, zap.NewNop())
	var gotArgs []string
	y.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		for i, a := range args {
			if a == "-o" {
				out := strings.Replace(args[i+1], "%(ext)s", "mp4", 1)
				return nil, os.WriteFile(out, []byte("video"), 0o644)
			}
		}
		return nil, errors.New("no output template")
	}

	path, err := y.Fetch(context.Background(), "https://www.instagram.com/reel/ABC/")
	require.NoError(t, err)
	assert.Equal(t, ".mp4", filepath.Ext(path))
	assert.FileExists(t, path)
	assert.Contains(t, gotArgs, "--cookies")
}

func TestYtDlp_FetchError(t *testing.T) {
	y := NewYtDlp(YtDlpConfig{MediaDir: t.TempDir(), CookiesFile: "/does/not/exist"}, zap.NewNop())
	y.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		assert.NotContains(t, args, "--cookies")
		return []byte("ERROR: login required"), errors.New("exit status 1")
	}

	_, err := y.Fetch(context.Background(), "https://www.instagram.com/reel/ABC/")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Contains(t, err.Error(), "login required")
}

func fakeFFmpeg(size int) Runner {
	return func(_ context.Context, name string, args ...string) ([]byte, error) {
		out := args[len(args)-1]
		return nil, os.WriteFile(out, make([]byte, size), 0o644)
	}
}

func TestFFmpeg_Extract(t *testing.T) {
	video := filepath.Join(t.TempDir(), "abc.mp4")
	f := NewFFmpeg(FFmpegConfig{MinAudioBytes: 100})
	f.run = fakeFFmpeg(200)

	a, err := f.Extract(context.Background(), video)
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactAudio, a.Kind)
	assert.Equal(t, []string{strings.TrimSuffix(video, ".mp4") + ".wav"}, a.Paths)
}

func TestFFmpeg_ExtractTooSmall(t *testing.T) {
	video := filepath.Join(t.TempDir(), "abc.mp4")
	f := NewFFmpeg(FFmpegConfig{MinAudioBytes: 50000})
	f.run = fakeFFmpeg(10)

	a, err := f.Extract(context.Background(), video)
	assert.ErrorIs(t, err, ErrNoContent)
	assert.Len(t, a.Paths, 1)
}

func TestFFmpeg_ExtractFailure(t *testing.T) {
	f := NewFFmpeg(FFmpegConfig{})
	f.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("Invalid data found"), errors.New("exit status 1")
	}

	_, err := f.Extract(context.Background(), "/tmp/none.mp4")
	var ee *ExtractionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "none.mp4", ee.Path)
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, os.WriteFile(a, []byte("same bytes"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("same bytes"), 0o644))

	fa, err := Fingerprint(types.Artifact{Paths: []string{a}})
	require.NoError(t, err)
	fb, err := Fingerprint(types.Artifact{Paths: []string{b}})
	require.NoError(t, err)
	assert.Equal(t, fa, fb)
	assert.Len(t, fa, 64)

	both, err := Fingerprint(types.Artifact{Paths: []string{a, b}})
	require.NoError(t, err)
	assert.NotEqual(t, fa, both)

	_, err = Fingerprint(types.Artifact{})
	assert.Error(t, err)
}

func TestChromePostFetcher_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.jpg" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	t.Cleanup(srv.Close)

	p := NewChromePostFetcher(PostConfig{MediaDir: t.TempDir(), MaxImages: 2}, zap.NewNop())

	paths, err := p.download(context.Background(), []string{srv.URL + "/1.png", srv.URL + "/2.png", srv.URL + "/3.png"})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, ".png", filepath.Ext(paths[0]))

	paths, err = p.download(context.Background(), []string{srv.URL + "/ok.png", srv.URL + "/missing.jpg"})
	assert.Error(t, err)
	assert.Len(t, paths, 1)
}

type fakeVideos struct {
	path string
	err  error
}

func (f fakeVideos) Fetch(context.Context, string) (string, error) { return f.path, f.err }

type fakePosts struct{ paths []string }

func (f fakePosts) Fetch(context.Context, string) ([]string, error) { return f.paths, nil }

type fakeExtractor struct{ err error }

func (f fakeExtractor) Extract(_ context.Context, video string) (types.Artifact, error) {
	return types.Artifact{Kind: types.ArtifactAudio, Paths: []string{video + ".wav"}}, f.err
}

func TestSource_Prepare(t *testing.T) {
	s := NewSource(fakeVideos{path: "/m/v.mp4"}, fakePosts{paths: []string{"/m/1.jpg", "/m/2.jpg"}}, fakeExtractor{})

	d, err := s.Prepare(context.Background(), "https://www.instagram.com/reel/A/")
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactAudio, d.Artifact.Kind)
	assert.Equal(t, []string{"/m/v.mp4", "/m/v.mp4.wav"}, d.Temp)

	d, err = s.Prepare(context.Background(), "https://www.instagram.com/p/B/")
	require.NoError(t, err)
	assert.Equal(t, types.ArtifactImages, d.Artifact.Kind)
	assert.Equal(t, []string{"/m/1.jpg", "/m/2.jpg"}, d.Temp)
}

func TestSource_PrepareKeepsTempOnError(t *testing.T) {
	s := NewSource(fakeVideos{path: "/m/v.mp4"}, nil, fakeExtractor{err: ErrNoContent})

	d, err := s.Prepare(context.Background(), "https://www.instagram.com/reel/A/")
	assert.ErrorIs(t, err, ErrNoContent)
	assert.Equal(t, []string{"/m/v.mp4", "/m/v.mp4.wav"}, d.Temp)

	_, err = s.Prepare(context.Background(), "https://www.instagram.com/p/B/")
	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}
