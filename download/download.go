// Package download implements the asset-download operation: variant
// selection, signed-URL lookup, local path planning, cross-directory sync of
// already-downloaded copies, chunked streaming with progress, and the
// optional unpack step.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"assetbridge/blender"
	"assetbridge/clients"
	"assetbridge/config"
	"assetbridge/logger"
	"assetbridge/remote"
	"assetbridge/task"
)

// AssetData is the metadata subset the download operation needs.
type AssetData struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	AssetBaseID string      `json:"assetBaseId"`
	AssetType   string      `json:"assetType"`
	Files       []AssetFile `json:"files"`
}

// Request is the input payload of one download task. It carries everything
// needed to retry the operation from scratch.
type Request struct {
	AppID        string    `json:"app_id"`
	APIKey       string    `json:"api_key"`
	SceneID      string    `json:"scene_id"`
	Resolution   string    `json:"resolution"`
	DownloadDirs []string  `json:"download_dirs"`
	Unpack       bool      `json:"unpack_files"`
	AssetData    AssetData `json:"asset_data"`
}

type Downloader struct {
	cfg    *config.Config
	pool   *clients.Pool
	api    *remote.Client
	runner *blender.Runner
	reg    *task.Registry
	log    zerolog.Logger
}

// NewDownloader wires the operation. runner may be nil when no host binary
// is available; unpack requests then fail per task instead of at startup.
func NewDownloader(cfg *config.Config, pool *clients.Pool, api *remote.Client, runner *blender.Runner, reg *task.Registry) *Downloader {
	return &Downloader{
		cfg:    cfg,
		pool:   pool,
		api:    api,
		runner: runner,
		reg:    reg,
		log:    logger.GetLogger().With().Str("component", "download").Logger(),
	}
}

// signedURLResponse is the marketplace's download-URL lookup reply.
type signedURLResponse struct {
	FilePath string `json:"filePath"`
}

// Run executes one download task to its terminal state. Never returns an
// error; every failure lands on the task.
func (d *Downloader) Run(ctx context.Context, t *task.Task, req Request) {
	if len(req.DownloadDirs) == 0 {
		t.Error("No download directory configured.", "")
		return
	}
	d.checkFreeDisk(req.DownloadDirs[0])

	file, chosen, ok := SelectFile(req.AssetData.Files, req.Resolution)
	if !ok {
		t.Error("Asset has no downloadable file.", fmt.Sprintf("requested resolution %q, files %v", req.Resolution, req.AssetData.Files))
		return
	}
	t.Progress(1, fmt.Sprintf("Downloading %s (%s)", req.AssetData.Name, chosen))

	// The URL-lookup call also validates the caller's entitlement, so its
	// status codes get dedicated GUI messages.
	var signed signedURLResponse
	lookupURL := file.DownloadURL + "?scene_uuid=" + req.SceneID
	if err := d.api.DoJSON(ctx, http.MethodGet, lookupURL, req.APIKey, nil, &signed); err != nil {
		t.Error(describeLookupError(err))
		return
	}
	if signed.FilePath == "" {
		t.Error("Server returned no download URL.", "filePath missing in download-URL response")
		return
	}

	filename := FileNameFromURL(signed.FilePath)
	paths, skipped := CandidatePaths(req.DownloadDirs, req.AssetData.Name, req.AssetData.ID, filename)
	for _, dir := range skipped {
		d.reg.Add(task.NewMessage(req.AppID,
			fmt.Sprintf("Download path in %s exceeds the Windows path-length limit; directory skipped.", shortenHome(dir))))
	}
	if len(paths) == 0 {
		t.Error("All download directories were skipped.", "every candidate path exceeds the path-length limit")
		return
	}

	// An existing copy anywhere short-circuits the network transfer; a copy
	// present in only one of two directories is synced into the other.
	existing, err := SyncExisting(paths)
	if err != nil {
		d.log.Warn().Err(err).Msg("could not sync existing asset copy")
	}
	if existing != "" {
		t.SetResult(map[string]string{"file_path": existing, "resolution": chosen})
		t.Finished("Asset found on hard drive")
		return
	}

	target := paths[0]
	label := fmt.Sprintf("Downloading %s", req.AssetData.Name)
	if err := Stream(ctx, d.pool.Transfer, signed.FilePath, "", target, d.cfg.ChunkSize, t, label); err != nil {
		switch {
		case errors.Is(err, ErrKilled):
			t.Error("Download canceled.", "")
		case errors.Is(err, ErrNoLength):
			t.Error("Server error.", "download response carries no Content-Length")
		default:
			t.Error(describeLookupError(err))
		}
		return
	}

	// Mirror the fresh file into the remaining directories.
	for _, p := range paths[1:] {
		if err := copyFile(target, p); err != nil {
			d.log.Warn().Err(err).Str("path", shortenHome(p)).Msg("could not mirror asset file")
		}
	}

	if req.Unpack {
		if err := d.unpack(ctx, t, target, req); err != nil {
			return
		}
	}

	t.SetResult(map[string]string{"file_path": target, "resolution": chosen})
	t.Finished("Asset downloaded")
}

// unpack hands the downloaded archive to the host application. The error
// return only signals that the task is already terminal.
func (d *Downloader) unpack(ctx context.Context, t *task.Task, path string, req Request) error {
	if d.runner == nil {
		t.Error("Cannot unpack asset.", "no host application binary configured")
		return errors.New("no runner")
	}
	t.Progress(95, "Unpacking files")
	output, err := d.runner.Run(ctx, blender.Job{
		Blendfile: path,
		Script:    "unpack_asset.py",
		Command:   "unpack",
		Payload: map[string]any{
			"asset_id":   req.AssetData.ID,
			"asset_type": req.AssetData.AssetType,
			"resolution": req.Resolution,
		},
	})
	if err != nil {
		t.Error("Unpacking failed.", output)
		return err
	}
	return nil
}

// describeLookupError maps URL-lookup failures onto the fixed GUI messages.
func describeLookupError(err error) (short, detailed string) {
	var apiErr *remote.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusForbidden:
			return "You need a paid plan to download this asset.", apiErr.Detailed
		case apiErr.StatusCode == http.StatusNotFound:
			return "URL not found.", apiErr.Detailed
		case apiErr.StatusCode >= 500:
			return "Server error.", apiErr.Detailed
		default:
			return apiErr.Short, apiErr.Detailed
		}
	}
	return "Connection error.", err.Error()
}

// checkFreeDisk warns when the target volume runs low. The download still
// proceeds; the remote file size is unknown before the transfer starts.
func (d *Downloader) checkFreeDisk(dir string) {
	usage, err := disk.Usage(dir)
	if err != nil {
		d.log.Warn().Err(err).Msg("could not get disk usage")
		return
	}
	if usage.Free < uint64(d.cfg.MinFreeDisk) {
		d.log.Warn().Uint64("free", usage.Free).Int64("required", d.cfg.MinFreeDisk).
			Msg("low disk space on download directory")
	}
}
