package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

func completedJob() types.Job {
	processed := time.Date(2026, 5, 17, 9, 30, 0, 0, time.UTC)
	return types.Job{
		ID:                "j1",
		SourceURL:         "https://www.instagram.com/reel/A/",
		Status:            types.StatusComplete,
		Language:          "hi",
		Title:             "Drink: Water?",
		TranscriptNative:  "पानी पियो",
		TranscriptEnglish: "drink water every morning",
		Triggers:          []string{"drink water after waking"},
		ProcessedAt:       &processed,
	}
}

func TestLocalStorage_SaveJob(t *testing.T) {
	dir := t.TempDir()
	ls := NewLocalStorage(dir)

	path, err := ls.SaveJob(completedJob())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026", "05", "17", "20260517_093000_Drink__Water_.txt"), path)

	text, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(text), "पानी पियो")
	assert.Contains(t, string(text), "- drink water after waking")

	raw, err := os.ReadFile(strings.TrimSuffix(path, ".txt") + "_meta.json")
	require.NoError(t, err)
	var meta archiveMeta
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, "j1", meta.JobID)
	assert.Equal(t, 4, meta.WordCount)
	assert.Equal(t, path, meta.LocalPath)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitizeFilename(" a/b c "))
	assert.Len(t, []rune(sanitizeFilename(strings.Repeat("ए", 150))), 100)
}

type fakeDrive struct {
	mu      sync.Mutex
	nextID  int
	created int
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodGet {
		_, _ = w.Write([]byte(`{"files":[]}`))
		return
	}
	f.nextID++
	f.created++
	fmt.Fprintf(w, `{"id":"file-%d"}`, f.nextID)
}

func TestDriveClient_UploadJob(t *testing.T) {
	fake := &fakeDrive{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	svc, err := drive.NewService(ctx, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	dc, err := newDriveClient(ctx, svc, "Trigger Engine")
	require.NoError(t, err)
	assert.Equal(t, "file-1", dc.folderID)

	link, err := dc.UploadJob(ctx, completedJob())
	require.NoError(t, err)
	// root folder, three dated folders, then the transcript
	assert.Equal(t, "https://drive.google.com/file/d/file-5/view", link)
	assert.Equal(t, 6, fake.created)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `it\'s`, escapeQuery("it's"))
}
