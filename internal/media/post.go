package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const collectImagesJS = `(() => {
	const seen = new Set();
	const push = (u) => { if (u && u.startsWith("http")) seen.add(u); };
	document.querySelectorAll("article img, main img").forEach((img) => push(img.currentSrc || img.src));
	const og = document.querySelector('meta[property="og:image"]');
	if (og) push(og.content);
	return Array.from(seen);
})()`

// PostConfig configures the headless Chrome post fetcher.
type PostConfig struct {
	MediaDir  string
	Timeout   time.Duration
	MaxImages int
}

// ChromePostFetcher renders an image post in headless Chrome, collects the
// image URLs and downloads them.
type ChromePostFetcher struct {
	mediaDir  string
	timeout   time.Duration
	maxImages int
	http      *http.Client
	logger    *zap.Logger
}

func NewChromePostFetcher(cfg PostConfig, logger *zap.Logger) *ChromePostFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = 10
	}
	return &ChromePostFetcher{
		mediaDir:  cfg.MediaDir,
		timeout:   cfg.Timeout,
		maxImages: cfg.MaxImages,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// Fetch returns the local paths of the post's images.
func (p *ChromePostFetcher) Fetch(ctx context.Context, url string) ([]string, error) {
	urls, err := p.imageURLs(ctx, url)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if len(urls) == 0 {
		return nil, &FetchError{URL: url, Err: errors.New("no images found in post")}
	}
	paths, err := p.download(ctx, urls)
	if err != nil {
		return paths, &FetchError{URL: url, Err: err}
	}
	return paths, nil
}

func (p *ChromePostFetcher) imageURLs(ctx context.Context, url string) ([]string, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, p.timeout)
	defer cancel()

	p.logger.Info("rendering post", zap.String("url", url))

	var urls []string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second), // let the carousel load
		chromedp.Evaluate(collectImagesJS, &urls, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
			return ep.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("render post: %w", err)
	}
	return urls, nil
}

// download saves up to maxImages URLs into the media directory. Paths written
// before a failure are returned so the caller can remove them.
func (p *ChromePostFetcher) download(ctx context.Context, urls []string) ([]string, error) {
	if err := os.MkdirAll(p.mediaDir, 0o755); err != nil {
		return nil, err
	}
	if len(urls) > p.maxImages {
		urls = urls[:p.maxImages]
	}

	prefix := uuid.New().String()
	paths := make([]string, 0, len(urls))
	for i, u := range urls {
		path, err := p.downloadOne(ctx, u, filepath.Join(p.mediaDir, fmt.Sprintf("%s_%02d", prefix, i)))
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (p *ChromePostFetcher) downloadOne(ctx context.Context, url, base string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}

	path := base + imageExt(resp.Header.Get("Content-Type"))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, f.Close()
}

func imageExt(contentType string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ".jpg"
	}
}
