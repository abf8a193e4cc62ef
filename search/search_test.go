package search

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetbridge/clients"
	"assetbridge/config"
	"assetbridge/remote"
	"assetbridge/task"
)

func testSearcher(t *testing.T, reg *task.Registry) *Searcher {
	cfg := &config.Config{
		TLSTrust:             "system",
		ProxyMode:            "none",
		ConnectTimeout:       5 * time.Second,
		RequestTimeout:       30 * time.Second,
		ChunkSize:            16,
		ThumbnailConcurrency: 4,
		WebpMinVersion:       "3.4.0",
	}
	pool, err := clients.NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return NewSearcher(cfg, pool, remote.NewClient("https://unused.example.com", pool.API), reg)
}

func TestVersionAtLeast(t *testing.T) {
	cases := []struct {
		version, min string
		want         bool
	}{
		{"3.4.0", "3.4.0", true},
		{"3.5.1", "3.4.0", true},
		{"4.0", "3.4.0", true},
		{"3.3.9", "3.4.0", false},
		{"2.93.0", "3.4.0", false},
		{"3.4", "3.4.0", true},
		{"", "3.4.0", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, versionAtLeast(tc.version, tc.min), "%q vs %q", tc.version, tc.min)
	}
}

func TestBuildThumbnailJobsVariantSelection(t *testing.T) {
	results := []assetResult{
		{
			AssetBaseID:           "model-1",
			AssetType:             "model",
			WebpGeneratedAt:       "2024-01-01T00:00:00",
			ThumbnailSmallURL:     "https://cdn.example.com/small1.jpg",
			ThumbnailSmallURLWebp: "https://cdn.example.com/small1.webp",
			ThumbnailLargeURL:     "https://cdn.example.com/large1.jpg",
			ThumbnailLargeURLWebp: "https://cdn.example.com/large1.webp",
		},
		{
			// No webp generated yet: jpegs even on a webp-capable host.
			AssetBaseID:       "model-2",
			AssetType:         "model",
			ThumbnailSmallURL: "https://cdn.example.com/small2.jpg",
			ThumbnailLargeURL: "https://cdn.example.com/large2.jpg",
		},
		{
			AssetBaseID:                     "hdr-1",
			AssetType:                       "hdr",
			WebpGeneratedAt:                 "2024-01-01T00:00:00",
			ThumbnailSmallURL:               "https://cdn.example.com/small3.jpg",
			ThumbnailLargeURL:               "https://cdn.example.com/large3.jpg",
			ThumbnailLargeURLNonsquared:     "https://cdn.example.com/wide3.jpg",
			ThumbnailLargeURLNonsquaredWebp: "https://cdn.example.com/wide3.webp",
		},
	}
	req := Request{AppID: "app-1", AppVersion: "3.5.0", TempDir: "/tmp/thumbs"}

	jobs := buildThumbnailJobs(results, req, "3.4.0")
	require.Len(t, jobs, 6)

	byURL := map[string]ThumbnailJob{}
	for _, j := range jobs {
		byURL[j.URL] = j
	}
	assert.Contains(t, byURL, "https://cdn.example.com/small1.webp")
	assert.Contains(t, byURL, "https://cdn.example.com/large1.webp")
	assert.Contains(t, byURL, "https://cdn.example.com/small2.jpg")
	assert.Contains(t, byURL, "https://cdn.example.com/large2.jpg")
	// HDR assets take the non-squared full thumbnail.
	assert.Contains(t, byURL, "https://cdn.example.com/wide3.webp")
	assert.NotContains(t, byURL, "https://cdn.example.com/large3.jpg")

	assert.Equal(t, "small", byURL["https://cdn.example.com/small1.webp"].Kind)
	assert.Equal(t, "full", byURL["https://cdn.example.com/wide3.webp"].Kind)
	assert.Equal(t, filepath.Join("/tmp/thumbs", "small1.webp"), byURL["https://cdn.example.com/small1.webp"].Path)
}

func TestBuildThumbnailJobsOldHostGetsJpeg(t *testing.T) {
	results := []assetResult{{
		AssetBaseID:           "model-1",
		AssetType:             "model",
		WebpGeneratedAt:       "2024-01-01T00:00:00",
		ThumbnailSmallURL:     "https://cdn.example.com/small1.jpg",
		ThumbnailSmallURLWebp: "https://cdn.example.com/small1.webp",
		ThumbnailLargeURL:     "https://cdn.example.com/large1.jpg",
		ThumbnailLargeURLWebp: "https://cdn.example.com/large1.webp",
	}}
	req := Request{AppVersion: "3.3.0", TempDir: "/tmp/thumbs"}

	jobs := buildThumbnailJobs(results, req, "3.4.0")
	require.Len(t, jobs, 2)
	assert.Equal(t, "https://cdn.example.com/small1.jpg", jobs[0].URL)
	assert.Equal(t, "https://cdn.example.com/large1.jpg", jobs[1].URL)
}

func TestRunParentFinishesBeforeThumbnailTasks(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			fmt.Fprintf(w, `{"results": [{
				"assetBaseId": "model-1",
				"assetType": "model",
				"thumbnailSmallUrl": %q,
				"thumbnailLargeUrl": %q
			}]}`, srv.URL+"/thumbs/small1.jpg", srv.URL+"/thumbs/large1.jpg")
		default:
			// Block the first thumbnail until the test observed the registry.
			once.Do(func() { <-release })
			body := []byte("image bytes")
			w.Header().Set("Content-Length", fmt.Sprint(len(body)))
			w.Write(body)
		}
	}))
	defer srv.Close()

	reg := task.NewRegistry()
	s := testSearcher(t, reg)
	req := Request{
		AppID:      "app-1",
		APIKey:     "key",
		URLQuery:   srv.URL + "/search",
		AppVersion: "3.5.0",
		TempDir:    t.TempDir(),
	}

	parent := task.New("", "app-1", "search", req)
	reg.Add(parent)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(context.Background(), parent, req)
	}()

	// When the first thumbnail sub-task shows up, the parent must already be
	// finished with its result committed.
	require.Eventually(t, func() bool { return reg.Len() > 1 }, 2*time.Second, time.Millisecond)
	snap := parent.Snapshot()
	assert.Equal(t, task.StatusFinished, snap.Status)
	assert.NotNil(t, snap.Result)

	close(release)
	<-done

	var small, full *task.Task
	for _, sub := range reg.ForApp("app-1") {
		switch sub.TaskType() {
		case "thumbnail_download":
			small = sub
		case "thumbnail_full_download":
			full = sub
		}
	}
	require.NotNil(t, small)
	require.NotNil(t, full)
	assert.Equal(t, task.StatusFinished, small.Snapshot().Status)
	assert.Equal(t, task.StatusFinished, full.Snapshot().Status)

	_, err := os.Stat(filepath.Join(req.TempDir, "small1.jpg"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(req.TempDir, "large1.jpg"))
	assert.NoError(t, err)
}

func TestRunExistingThumbnailSkipsNetwork(t *testing.T) {
	thumbHits := 0
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			fmt.Fprintf(w, `{"results": [{
				"assetBaseId": "model-1",
				"assetType": "model",
				"thumbnailSmallUrl": %q
			}]}`, srv.URL+"/thumbs/small1.jpg")
		default:
			thumbHits++
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := task.NewRegistry()
	s := testSearcher(t, reg)
	req := Request{
		AppID:    "app-1",
		APIKey:   "key",
		URLQuery: srv.URL + "/search",
		TempDir:  t.TempDir(),
	}
	require.NoError(t, os.WriteFile(filepath.Join(req.TempDir, "small1.jpg"), []byte("cached"), 0o644))

	parent := task.New("", "app-1", "search", req)
	s.Run(context.Background(), parent, req)

	assert.Equal(t, 0, thumbHits)
	subs := reg.ForApp("app-1")
	require.Len(t, subs, 1)
	snap := subs[0].Snapshot()
	assert.Equal(t, task.StatusFinished, snap.Status)
	assert.Equal(t, "Thumbnail on disk", snap.Message)
}

func TestRunSearchFailureSkipsCascade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"detail": "search backend down"}`)
	}))
	defer srv.Close()

	reg := task.NewRegistry()
	s := testSearcher(t, reg)
	req := Request{AppID: "app-1", URLQuery: srv.URL + "/search", TempDir: t.TempDir()}

	parent := task.New("", "app-1", "search", req)
	s.Run(context.Background(), parent, req)

	snap := parent.Snapshot()
	assert.Equal(t, task.StatusError, snap.Status)
	assert.Equal(t, 0, reg.Len())
}
