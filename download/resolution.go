package download

// ResolutionOriginal is the sentinel resolution tag for the uploaded source
// file, which has no texture-size variant.
const ResolutionOriginal = "ORIGINAL"

// originalFileType marks the uploaded source file in an asset's file list.
const originalFileType = "blend"

// resolutionPixels maps a resolution tag to its texture edge size. Used to
// pick the numerically closest variant when the requested one is missing.
var resolutionPixels = map[string]int{
	"resolution_0_5K": 512,
	"resolution_1K":   1024,
	"resolution_2K":   2048,
	"resolution_4K":   4096,
	"resolution_8K":   8192,
}

// AssetFile is one downloadable variant of an asset.
type AssetFile struct {
	FileType    string `json:"fileType"`
	DownloadURL string `json:"downloadUrl"`
}

// SelectFile picks which variant to download for the requested resolution:
//
//  1. the exact requested tag, if the asset has it;
//  2. the original file, when the original was requested;
//  3. the available resolution numerically closest to the requested one;
//     comparison is strict less-than, so on an exact distance tie the
//     first-encountered file wins;
//  4. the original file, tagged with the sentinel resolution.
//
// ok is false when the asset offers nothing usable at all.
func SelectFile(files []AssetFile, resolution string) (file AssetFile, chosen string, ok bool) {
	for _, f := range files {
		if f.FileType == resolution {
			return f, resolution, true
		}
	}

	original, hasOriginal := findOriginal(files)
	if resolution == ResolutionOriginal && hasOriginal {
		return original, ResolutionOriginal, true
	}

	if target, known := resolutionPixels[resolution]; known {
		bestDist := -1
		var best AssetFile
		for _, f := range files {
			pixels, isResolution := resolutionPixels[f.FileType]
			if !isResolution {
				continue
			}
			dist := pixels - target
			if dist < 0 {
				dist = -dist
			}
			if bestDist < 0 || dist < bestDist {
				bestDist = dist
				best = f
			}
		}
		if bestDist >= 0 {
			return best, best.FileType, true
		}
	}

	if hasOriginal {
		return original, ResolutionOriginal, true
	}
	return AssetFile{}, "", false
}

func findOriginal(files []AssetFile) (AssetFile, bool) {
	for _, f := range files {
		if f.FileType == originalFileType {
			return f, true
		}
	}
	return AssetFile{}, false
}
