package download

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gosimple/slug"
)

// maxPathLength is the longest target path we will write. Windows still
// rejects classic paths beyond 259 characters unless long paths are opted
// in system-wide, so violating directories are skipped with a GUI warning
// instead of failing the whole download.
var maxPathLength = func() int {
	if runtime.GOOS == "windows" {
		return 259
	}
	return 4096
}()

// AssetDirName builds the per-asset directory: a slugified asset name plus
// its id, so names that collide or carry unsafe characters stay unique.
func AssetDirName(name, id string) string {
	s := slug.Make(name)
	if len(s) > 40 {
		s = s[:40]
	}
	if s == "" {
		s = "asset"
	}
	return s + "_" + id
}

// FileNameFromURL extracts the payload filename from a signed URL.
func FileNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return filepath.Base(raw)
	}
	return filepath.Base(u.Path)
}

// CandidatePaths plans one target path per download directory. Directories
// whose resulting path violates the platform path-length policy come back in
// skipped instead, for the caller to surface as a warning.
func CandidatePaths(dirs []string, assetName, assetID, filename string) (paths, skipped []string) {
	dirName := AssetDirName(assetName, assetID)
	for _, dir := range dirs {
		p := filepath.Join(dir, dirName, filename)
		if len(p) > maxPathLength {
			skipped = append(skipped, dir)
			continue
		}
		paths = append(paths, p)
	}
	return paths, skipped
}

// SyncExisting looks for the asset file among the candidate paths. When it
// exists in exactly one of two locations, the asset directory (file plus any
// sibling texture subdirectories) is copied into the missing one rather than
// re-downloaded. Returns the path of an existing copy, or "".
func SyncExisting(paths []string) (string, error) {
	var have, missing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			have = append(have, p)
		} else {
			missing = append(missing, p)
		}
	}
	if len(have) == 0 {
		return "", nil
	}

	if len(have) == 1 && len(missing) == 1 {
		src := filepath.Dir(have[0])
		dst := filepath.Dir(missing[0])
		if err := copyTree(src, dst); err != nil {
			return have[0], fmt.Errorf("sync %s to %s: %w", src, dst, err)
		}
	}
	return have[0], nil
}

// copyTree copies a directory recursively. Symlinks are not expected inside
// asset directories and are skipped.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case info.IsDir():
			return os.MkdirAll(target, 0o755)
		case info.Mode().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// removeIfEmptyDir drops the parent directory of a deleted partial file so
// aborted downloads leave no empty asset folders behind.
func removeIfEmptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}

// shortenHome makes log paths readable; never used for filesystem access.
func shortenHome(p string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
