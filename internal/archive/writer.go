package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/renameio"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/roach88/aiida/internal/entity"
	"github.com/roach88/aiida/internal/repository"
	"github.com/roach88/aiida/internal/store"
)

// Mode selects how a Writer treats an existing file.
type Mode int

const (
	// ModeWrite creates a new archive. An existing file is an error
	// unless Overwrite is set.
	ModeWrite Mode = iota
	// ModeAppend adds to an existing archive and rewrites it in place.
	ModeAppend
)

// WriterOptions configures OpenWriter.
type WriterOptions struct {
	Mode      Mode
	Overwrite bool
	// CompressionLevel is the deflate level, 0 (stored) to 9.
	CompressionLevel int
	// KeyFormat of the repository objects; recorded for new archives.
	KeyFormat string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Writer builds an archive in a work directory and writes the zip file
// on Close. Until then the destination is untouched.
type Writer struct {
	path     string
	opts     WriterOptions
	logger   *slog.Logger
	workDir  string
	db       *store.Store
	metadata map[string]any
	done     bool
}

// OpenWriter starts writing the archive at path.
func OpenWriter(path string, opts WriterOptions) (*Writer, error) {
	if opts.CompressionLevel < 0 || opts.CompressionLevel > 9 {
		return nil, fmt.Errorf("compression level %d outside 0-9", opts.CompressionLevel)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	switch opts.Mode {
	case ModeWrite:
		if exists && !opts.Overwrite {
			return nil, fmt.Errorf("%s: %w", path, ErrArchiveExists)
		}
	case ModeAppend:
		if !exists {
			return nil, fmt.Errorf("append to %s: %w", path, statErr)
		}
	default:
		return nil, fmt.Errorf("unknown writer mode %d", opts.Mode)
	}

	workDir, err := os.MkdirTemp("", "aiida-archive-")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	w := &Writer{path: path, opts: opts, logger: opts.Logger, workDir: workDir}

	if opts.Mode == ModeAppend {
		err = w.unpack()
	} else {
		err = os.MkdirAll(filepath.Join(workDir, "repo"), 0o755)
		w.metadata = map[string]any{
			"export_version": ExportVersion,
			"aiida_version":  AiidaVersion,
			"key_format":     opts.KeyFormat,
			"compression":    opts.CompressionLevel,
			"ctime":          opts.Now().UTC(),
		}
	}
	if err == nil {
		w.db, err = store.Open(filepath.Join(workDir, databaseName), store.JournalMode("DELETE"))
	}
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("open archive writer: %w", err)
	}
	return w, nil
}

// unpack loads an existing archive into the work directory.
func (w *Writer) unpack() error {
	zr, err := zip.OpenReader(w.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", w.path, err)
	}
	defer zr.Close()

	data, err := readEntry(&zr.Reader, metadataName)
	if err != nil {
		return err
	}
	meta, raw, err := decodeMetadata(data)
	if err != nil {
		return err
	}
	if err := checkVersion(meta); err != nil {
		return err
	}
	w.metadata = raw
	w.metadata["compression"] = w.opts.CompressionLevel
	return extractAll(&zr.Reader, w.workDir)
}

// Path returns the destination path.
func (w *Writer) Path() string { return w.path }

// UpdateMetadata merges m into the archive metadata. Existing keys fail
// unless overwrite is set.
func (w *Writer) UpdateMetadata(m map[string]any, overwrite bool) error {
	if !overwrite {
		for _, k := range entity.SortedKeys(m) {
			if _, ok := w.metadata[k]; ok {
				return fmt.Errorf("metadata key %q already set", k)
			}
		}
	}
	for k, v := range m {
		w.metadata[k] = v
	}
	return nil
}

// BulkInsert writes rows of one entity type into the snapshot. Without
// allowDefaults every column must be present.
func (w *Writer) BulkInsert(ctx context.Context, t entity.EntityType, rows []entity.Row, allowDefaults bool) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	return w.db.BulkInsert(ctx, t, rows, allowDefaults)
}

func (w *Writer) objectPath(key string) string {
	return filepath.Join(w.workDir, "repo", key)
}

// PutObject stores the content of r under key. With an empty key the
// SHA-256 of the content is used. Existing objects are kept.
func (w *Writer) PutObject(r io.Reader, key string) (string, error) {
	if key != "" && !validKey(key) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if key != "" {
		if _, err := os.Stat(w.objectPath(key)); err == nil {
			_, err := io.Copy(io.Discard, r)
			return key, err
		}
	}

	tmp, err := os.CreateTemp(w.workDir, "object-")
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, h), r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	if key == "" {
		key = hex.EncodeToString(h.Sum(nil))
	}
	if err := os.Rename(tmp.Name(), w.objectPath(key)); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// DeleteObject removes an object from the archive.
func (w *Writer) DeleteObject(key string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid object key %q", key)
	}
	err := os.Remove(w.objectPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return &repository.ObjectNotFoundError{Keys: []string{key}}
	}
	return err
}

// Abort discards the work directory without touching the destination.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	err := w.db.Close()
	if rmErr := os.RemoveAll(w.workDir); rmErr != nil {
		w.logger.Warn("remove archive work directory", "path", w.workDir, "error", rmErr)
	}
	return err
}

// Close writes the archive and atomically moves it to the destination.
func (w *Writer) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	defer func() {
		if err := os.RemoveAll(w.workDir); err != nil {
			w.logger.Warn("remove archive work directory", "path", w.workDir, "error", err)
		}
	}()

	if err := w.db.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	t, err := renameio.TempFile(filepath.Dir(w.path), w.path)
	if err != nil {
		return fmt.Errorf("create %s: %w", w.path, err)
	}
	defer t.Cleanup()

	if err := w.writeZip(t); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("write %s: %w", w.path, err)
	}
	w.logger.Info("wrote archive", "path", w.path)
	return nil
}

func (w *Writer) writeZip(out io.Writer) error {
	level := w.opts.CompressionLevel
	method := zip.Deflate
	if level == 0 {
		method = zip.Store
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(dst io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(dst, level)
	})
	modified := w.opts.Now()

	meta, err := json.MarshalIndent(w.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: metadataName, Method: method, Modified: modified})
	if err != nil {
		return err
	}
	if _, err := fw.Write(meta); err != nil {
		return err
	}

	if err := addFile(zw, databaseName, filepath.Join(w.workDir, databaseName), method, modified); err != nil {
		return err
	}

	entries, err := os.ReadDir(filepath.Join(w.workDir, "repo"))
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	slices.Sort(names)
	for _, key := range names {
		if err := addFile(zw, repoPrefix+key, w.objectPath(key), method, modified); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, name, src string, method uint16, modified time.Time) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: modified})
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	return nil
}
