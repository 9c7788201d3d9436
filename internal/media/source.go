package media

import (
	"context"
	"errors"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// VideoFetcher downloads a reel to a local file.
type VideoFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// PostFetcher downloads the images of a post.
type PostFetcher interface {
	Fetch(ctx context.Context, url string) ([]string, error)
}

// Extractor turns a video file into an audio artifact.
type Extractor interface {
	Extract(ctx context.Context, videoPath string) (types.Artifact, error)
}

// Download is a prepared artifact plus every temporary file created for it.
type Download struct {
	Artifact types.Artifact
	Temp     []string
}

// Source picks the download path for a URL: images for posts, audio for
// everything else.
type Source struct {
	videos    VideoFetcher
	posts     PostFetcher
	extractor Extractor
}

// NewSource wires the fetchers. posts may be nil when image posts are
// disabled.
func NewSource(videos VideoFetcher, posts PostFetcher, extractor Extractor) *Source {
	return &Source{videos: videos, posts: posts, extractor: extractor}
}

// Prepare downloads url and extracts its artifact. Temp is filled even when
// an error is returned.
func (s *Source) Prepare(ctx context.Context, url string) (Download, error) {
	var d Download

	if IsPost(url) {
		if s.posts == nil {
			return d, &FetchError{URL: url, Err: errors.New("image posts are disabled")}
		}
		paths, err := s.posts.Fetch(ctx, url)
		d.Temp = append(d.Temp, paths...)
		if err != nil {
			return d, err
		}
		d.Artifact = types.Artifact{Kind: types.ArtifactImages, Paths: paths}
		return d, nil
	}

	video, err := s.videos.Fetch(ctx, url)
	if err != nil {
		return d, err
	}
	d.Temp = append(d.Temp, video)

	artifact, err := s.extractor.Extract(ctx, video)
	d.Temp = append(d.Temp, artifact.Paths...)
	if err != nil {
		return d, err
	}
	d.Artifact = artifact
	return d, nil
}
