package tilestorage

import (
	"compress/flate"
	"io"
)

// deflateLevel6 registers deflate at compression level 6, matching the
// original storage/zip_storage.rs's explicit compression_level(Some(6)).
func deflateLevel6(out io.Writer) (io.WriteCloser, error) {
	return flate.NewWriter(out, 6)
}
