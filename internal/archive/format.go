// Package archive exports subsets of the provenance graph to portable
// archive files and imports them into other profiles.
//
// An archive is a zip file holding
//
//	metadata.json   versions, key format, creation parameters, counts
//	db.sqlite3      relational snapshot with the live schema
//	repo/<key>      repository objects referenced by the archived nodes
//
// Entity ids inside the snapshot are those of the exporting profile; the
// importer translates them into the target's id space.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
)

// Archive format constants.
const (
	// ExportVersion is the only archive version this package reads and
	// writes.
	ExportVersion = "main_0001"
	// AiidaVersion is recorded in new archives.
	AiidaVersion = "2.6.0"

	metadataName = "metadata.json"
	databaseName = "db.sqlite3"
	repoPrefix   = "repo/"
)

// Metadata is the decoded metadata.json of an archive.
type Metadata struct {
	ExportVersion      string           `json:"export_version"`
	AiidaVersion       string           `json:"aiida_version"`
	KeyFormat          string           `json:"key_format"`
	Compression        int              `json:"compression"`
	Ctime              time.Time        `json:"ctime"`
	CreationParameters map[string]any   `json:"creation_parameters,omitempty"`
	Entities           map[string]int64 `json:"entities,omitempty"`
}

func decodeMetadata(data []byte) (*Metadata, map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", metadataName, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", metadataName, err)
	}
	return &meta, raw, nil
}

// checkVersion rejects archives of any other version.
func checkVersion(meta *Metadata) error {
	if meta.ExportVersion != ExportVersion {
		return &IncompatibleSchemaError{Found: meta.ExportVersion, Expected: ExportVersion}
	}
	return nil
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}

// extract copies the zip entry zf into dest.
func extract(zf *zip.File, dest string) error {
	f, err := zf.Open()
	if err != nil {
		return fmt.Errorf("extract %s: %w", zf.Name, err)
	}
	defer f.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("extract %s: %w", zf.Name, err)
	}
	if _, err := io.Copy(out, f); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", zf.Name, err)
	}
	return out.Close()
}

// readEntry returns the content of the entry called name.
func readEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("archive has no %s", name)
}

// extractAll unpacks a whole archive into a work directory laid out as
// the writer expects.
func extractAll(zr *zip.Reader, dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "repo"), 0o755); err != nil {
		return err
	}
	for _, f := range zr.File {
		switch {
		case f.Name == metadataName:
		case f.Name == databaseName:
			if err := extract(f, filepath.Join(dir, databaseName)); err != nil {
				return err
			}
		case strings.HasPrefix(f.Name, repoPrefix):
			key := path.Base(f.Name)
			if !validKey(key) || f.Name != repoPrefix+key {
				return fmt.Errorf("unexpected archive entry %q", f.Name)
			}
			if err := extract(f, filepath.Join(dir, "repo", key)); err != nil {
				return err
			}
		}
	}
	return nil
}
