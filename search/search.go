// Package search implements the asset-search operation and its thumbnail
// cascade. The search task itself finishes as soon as the result JSON is
// committed; thumbnail downloads follow as independent sub-tasks so the GUI
// can render result rows before the images arrive.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"assetbridge/clients"
	"assetbridge/config"
	"assetbridge/download"
	"assetbridge/logger"
	"assetbridge/remote"
	"assetbridge/task"
)

// Request is the input payload of one search task. The GUI prepares the full
// query URL itself; the daemon only executes it and manages the cascade.
type Request struct {
	AppID      string `json:"app_id"`
	APIKey     string `json:"api_key"`
	URLQuery   string `json:"urlquery"`
	AppVersion string `json:"app_version"`
	TempDir    string `json:"tempdir"`
}

// ThumbnailJob is the data payload of one thumbnail sub-task.
type ThumbnailJob struct {
	AssetBaseID string `json:"asset_base_id"`
	URL         string `json:"image_url"`
	Path        string `json:"image_path"`
	Kind        string `json:"thumbnail_type"` // "small" or "full"
}

// assetResult is the slice of a search result the cascade needs.
type assetResult struct {
	AssetBaseID                     string `json:"assetBaseId"`
	AssetType                       string `json:"assetType"`
	WebpGeneratedAt                 string `json:"webpGeneratedAt"`
	ThumbnailSmallURL               string `json:"thumbnailSmallUrl"`
	ThumbnailSmallURLWebp           string `json:"thumbnailSmallUrlWebp"`
	ThumbnailLargeURL               string `json:"thumbnailLargeUrl"`
	ThumbnailLargeURLWebp           string `json:"thumbnailLargeUrlWebp"`
	ThumbnailLargeURLNonsquared     string `json:"thumbnailLargeUrlNonsquared"`
	ThumbnailLargeURLNonsquaredWebp string `json:"thumbnailLargeUrlNonsquaredWebp"`
}

type Searcher struct {
	cfg  *config.Config
	pool *clients.Pool
	api  *remote.Client
	reg  *task.Registry
	log  zerolog.Logger
}

func NewSearcher(cfg *config.Config, pool *clients.Pool, api *remote.Client, reg *task.Registry) *Searcher {
	return &Searcher{
		cfg:  cfg,
		pool: pool,
		api:  api,
		reg:  reg,
		log:  logger.GetLogger().With().Str("component", "search").Logger(),
	}
}

// Run executes one search task, then downloads thumbnails for the results.
// The parent task is guaranteed to be finished before any thumbnail sub-task
// is registered.
func (s *Searcher) Run(ctx context.Context, t *task.Task, req Request) {
	var raw json.RawMessage
	if err := s.api.DoJSON(ctx, http.MethodGet, req.URLQuery, req.APIKey, nil, &raw); err != nil {
		t.Error(remote.Describe(err))
		return
	}

	t.SetResult(raw)
	t.Finished("Search results downloaded")

	var page struct {
		Results []assetResult `json:"results"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		s.log.Warn().Err(err).Msg("search results not parseable, skipping thumbnails")
		return
	}

	s.fetchThumbnails(ctx, req, buildThumbnailJobs(page.Results, req, s.cfg.WebpMinVersion))
}

// fetchThumbnails registers one sub-task per missing image and downloads
// them through the pooled thumbnail sessions with bounded concurrency.
// Images already on disk get an immediately-finished task and no network
// call.
func (s *Searcher) fetchThumbnails(ctx context.Context, req Request, jobs []ThumbnailJob) {
	g, gctx := errgroup.WithContext(ctx)
	limit := s.cfg.ThumbnailConcurrency
	if limit <= 0 {
		limit = 12
	}
	g.SetLimit(limit)

	for _, job := range jobs {
		taskType := "thumbnail_download"
		session := s.pool.SmallThumb
		if job.Kind == "full" {
			taskType = "thumbnail_full_download"
			session = s.pool.FullThumb
		}

		sub := task.New("", req.AppID, taskType, job)
		if _, err := os.Stat(job.Path); err == nil {
			sub.SetResult(map[string]string{"image_path": job.Path})
			sub.Finished("Thumbnail on disk")
			s.reg.Add(sub)
			continue
		}
		s.reg.Add(sub)

		job := job
		g.Go(func() error {
			err := download.Stream(gctx, session, job.URL, "", job.Path, s.cfg.ChunkSize, sub, "Downloading thumbnail")
			switch {
			case err == nil:
				sub.SetResult(map[string]string{"image_path": job.Path})
				sub.Finished("Thumbnail downloaded")
			case errors.Is(err, download.ErrKilled):
				sub.Error("Thumbnail download canceled.", "")
			default:
				sub.Error(remote.Describe(err))
			}
			// Thumbnail failures are per-task, never fatal to the batch.
			return nil
		})
	}
	g.Wait()
}

// buildThumbnailJobs plans the small and full thumbnail of every result.
// Hosts new enough to decode WebP get the WebP variant when the asset has
// one; HDR assets use the non-squared full thumbnail, everything else the
// squared one.
func buildThumbnailJobs(results []assetResult, req Request, webpMinVersion string) []ThumbnailJob {
	webpCapable := versionAtLeast(req.AppVersion, webpMinVersion)
	var jobs []ThumbnailJob
	for _, r := range results {
		useWebp := webpCapable && r.WebpGeneratedAt != ""

		small := r.ThumbnailSmallURL
		if useWebp && r.ThumbnailSmallURLWebp != "" {
			small = r.ThumbnailSmallURLWebp
		}

		var full string
		if strings.EqualFold(r.AssetType, "hdr") {
			full = r.ThumbnailLargeURLNonsquared
			if useWebp && r.ThumbnailLargeURLNonsquaredWebp != "" {
				full = r.ThumbnailLargeURLNonsquaredWebp
			}
		} else {
			full = r.ThumbnailLargeURL
			if useWebp && r.ThumbnailLargeURLWebp != "" {
				full = r.ThumbnailLargeURLWebp
			}
		}

		if small != "" {
			jobs = append(jobs, ThumbnailJob{
				AssetBaseID: r.AssetBaseID,
				URL:         small,
				Path:        filepath.Join(req.TempDir, download.FileNameFromURL(small)),
				Kind:        "small",
			})
		}
		if full != "" {
			jobs = append(jobs, ThumbnailJob{
				AssetBaseID: r.AssetBaseID,
				URL:         full,
				Path:        filepath.Join(req.TempDir, download.FileNameFromURL(full)),
				Kind:        "full",
			})
		}
	}
	return jobs
}

// versionAtLeast compares dotted numeric versions; missing parts count as 0.
func versionAtLeast(version, min string) bool {
	if version == "" {
		return false
	}
	v := strings.Split(version, ".")
	m := strings.Split(min, ".")
	for i := 0; i < len(v) || i < len(m); i++ {
		var vi, mi int
		if i < len(v) {
			vi, _ = strconv.Atoi(strings.TrimSpace(v[i]))
		}
		if i < len(m) {
			mi, _ = strconv.Atoi(strings.TrimSpace(m[i]))
		}
		if vi != mi {
			return vi > mi
		}
	}
	return true
}
