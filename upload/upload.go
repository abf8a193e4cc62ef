// Package upload implements the multi-step asset upload pipeline: metadata,
// optional pack step in the host application, per-file signed-URL storage
// puts with confirmations, and the final verification-status change. The
// first failing step aborts the rest and names itself in the task error.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"assetbridge/blender"
	"assetbridge/clients"
	"assetbridge/config"
	"assetbridge/logger"
	"assetbridge/remote"
	"assetbridge/task"
)

// Upload-set members the GUI can request.
const (
	SetMetadata  = "METADATA"
	SetThumbnail = "THUMBNAIL"
	SetMainFile  = "MAINFILE"
)

// ExportData identifies the host-side scene state feeding the pack step.
type ExportData struct {
	SourceFilepath string `json:"source_filepath"`
	TempDir        string `json:"temp_dir"`
	ThumbnailPath  string `json:"thumbnail_path"`
	AssetBaseID    string `json:"asset_base_id"`
}

// Request is the input payload of one upload task.
type Request struct {
	AppID      string          `json:"app_id"`
	APIKey     string          `json:"api_key"`
	ExportData ExportData      `json:"export_data"`
	UploadData json.RawMessage `json:"upload_data"`
	UploadSet  []string        `json:"upload_set"`
	Reupload   bool            `json:"reupload"`
	AssetID    string          `json:"asset_id,omitempty"`
}

// assetResponse is the slice of the metadata reply the pipeline needs.
type assetResponse struct {
	ID                 string `json:"id"`
	VerificationStatus string `json:"verificationStatus"`
}

// uploadDescriptor is the signed-upload reply for one file.
type uploadDescriptor struct {
	ID          string `json:"id"`
	S3UploadURL string `json:"s3UploadUrl"`
}

// fileEntry is one payload file headed for storage.
type fileEntry struct {
	fileType string
	index    int
	path     string
}

type Uploader struct {
	cfg    *config.Config
	pool   *clients.Pool
	api    *remote.Client
	runner *blender.Runner
	log    zerolog.Logger
}

func NewUploader(cfg *config.Config, pool *clients.Pool, api *remote.Client, runner *blender.Runner) *Uploader {
	return &Uploader{
		cfg:    cfg,
		pool:   pool,
		api:    api,
		runner: runner,
		log:    logger.GetLogger().With().Str("component", "upload").Logger(),
	}
}

// Run executes one upload task to its terminal state.
func (u *Uploader) Run(ctx context.Context, t *task.Task, req Request) {
	if len(req.UploadSet) == 0 {
		t.Error("Nothing to upload.", "empty upload set")
		return
	}

	asset, err := u.uploadMetadata(ctx, req)
	if err != nil {
		short, detailed := remote.Describe(err)
		t.Error("Metadata upload failed: "+short, detailed)
		return
	}
	t.Progress(1, "Metadata uploaded")

	var files []fileEntry
	if contains(req.UploadSet, SetMainFile) {
		t.Progress(5, "Packing asset file")
		packed, output, err := u.pack(ctx, req, asset.ID)
		if err != nil {
			t.Error("Packing failed.", output)
			return
		}
		files = append(files, fileEntry{fileType: "blend", index: 0, path: packed})
	}
	if contains(req.UploadSet, SetThumbnail) {
		files = append(files, fileEntry{fileType: "thumbnail", index: 0, path: req.ExportData.ThumbnailPath})
	}

	for i, f := range files {
		if err := u.uploadFile(ctx, req, asset.ID, f); err != nil {
			short, detailed := remote.Describe(err)
			t.Error(fmt.Sprintf("Upload of %s failed: %s", f.fileType, short), detailed)
			return
		}
		t.Progress(20+80*(i+1)/len(files), fmt.Sprintf("Uploaded %s", f.fileType))
	}

	if err := u.confirmVerification(ctx, req, asset, contains(req.UploadSet, SetMainFile)); err != nil {
		short, detailed := remote.Describe(err)
		t.Error("Verification update failed: "+short, detailed)
		return
	}

	t.SetResult(map[string]string{"asset_id": asset.ID})
	t.Finished("Asset uploaded")
}

// uploadMetadata creates the asset (POST) or patches an existing one on
// reupload. The reply carries the asset's previous verification status, which
// decides the final step.
func (u *Uploader) uploadMetadata(ctx context.Context, req Request) (*assetResponse, error) {
	method := http.MethodPost
	url := u.api.URL("/api/v1/assets/")
	if req.Reupload && req.AssetID != "" {
		method = http.MethodPatch
		url = u.api.URL("/api/v1/assets/%s/", req.AssetID)
	}

	var asset assetResponse
	if err := u.api.DoJSON(ctx, method, url, req.APIKey, req.UploadData, &asset); err != nil {
		return nil, err
	}
	if asset.ID == "" {
		asset.ID = req.AssetID
	}
	if asset.ID == "" {
		return nil, fmt.Errorf("metadata response carries no asset id")
	}
	return &asset, nil
}

// pack produces a cleaned, self-contained asset file through the host
// application. Returns the packed file path and the captured process output.
func (u *Uploader) pack(ctx context.Context, req Request, assetID string) (string, string, error) {
	if u.runner == nil {
		return "", "no host application binary configured", fmt.Errorf("no runner")
	}

	tempDir := req.ExportData.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	packed := filepath.Join(tempDir, assetID+".blend")

	output, err := u.runner.Run(ctx, blender.Job{
		Blendfile: req.ExportData.SourceFilepath,
		Script:    "pack_asset.py",
		Command:   "pack",
		Payload: map[string]any{
			"asset_id":      assetID,
			"asset_base_id": req.ExportData.AssetBaseID,
			"target_path":   packed,
		},
		TempDir: tempDir,
	})
	if err != nil {
		return "", output, err
	}
	if _, statErr := os.Stat(packed); statErr != nil {
		return "", output, fmt.Errorf("pack produced no file: %w", statErr)
	}
	return packed, output, nil
}

// uploadFile runs the three-call sequence for one file: signed descriptor,
// storage PUT, confirmation.
func (u *Uploader) uploadFile(ctx context.Context, req Request, assetID string, f fileEntry) error {
	body := map[string]any{
		"assetId":          assetID,
		"fileType":         f.fileType,
		"fileIndex":        f.index,
		"originalFilename": filepath.Base(f.path),
	}
	var descriptor uploadDescriptor
	if err := u.api.DoJSON(ctx, http.MethodPost, u.api.URL("/api/v1/uploads/"), req.APIKey, body, &descriptor); err != nil {
		return fmt.Errorf("request upload descriptor: %w", err)
	}
	if descriptor.S3UploadURL == "" {
		return fmt.Errorf("upload descriptor carries no storage URL")
	}

	if err := remote.PutFile(ctx, u.pool.Transfer, descriptor.S3UploadURL, f.path); err != nil {
		return fmt.Errorf("storage put: %w", err)
	}

	confirmURL := u.api.URL("/api/v1/uploads-s3/%s/upload-file/", descriptor.ID)
	if err := u.api.DoJSON(ctx, http.MethodPost, confirmURL, req.APIKey, nil, nil); err != nil {
		return fmt.Errorf("confirm upload: %w", err)
	}
	return nil
}

// confirmVerification flips the asset to "uploaded": unconditionally when a
// main file was part of this upload, otherwise only when the asset sat in a
// state that needs fresh review.
func (u *Uploader) confirmVerification(ctx context.Context, req Request, asset *assetResponse, mainFileUploaded bool) error {
	if !mainFileUploaded {
		switch asset.VerificationStatus {
		case "on_hold", "deleted", "rejected":
		default:
			return nil
		}
	}
	url := u.api.URL("/api/v1/assets/%s/", asset.ID)
	body := map[string]string{"verificationStatus": "uploaded"}
	return u.api.DoJSON(ctx, http.MethodPatch, url, req.APIKey, body, nil)
}

func contains(set []string, want string) bool {
	for _, s := range set {
		if s == want {
			return true
		}
	}
	return false
}
