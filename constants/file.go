package constants

import "strings"

// AllowedExtensions holds the page image extensions a record may contain.
var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"tif":  {},
	"tiff": {},
}

// LabelVersion is written into label documents that lack one.
const LabelVersion = "1.0"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedImage reports whether a file name carries a supported page extension.
func IsAllowedImage(name string) bool {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return false
	}
	_, ok := AllowedExtensions[NormalizeExt(name[i:])]
	return ok
}
