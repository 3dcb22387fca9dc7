// Package contentcache implements the Content Cache (spec.md section 4.5): a
// persistent on-disk store of file bodies, keyed by (file-id, content-hash),
// with at-most-one-fetch-per-fingerprint semantics shared across concurrent
// readers.
package contentcache

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/N-Coder/studip-fuse/internal/entity"
)

// Downloader is the subset of restapi.Client the cache needs to fetch a
// file's body.
type Downloader interface {
	Download(ctx context.Context, downloadURL string) (io.ReadCloser, error)
}

// Meta is the on-disk sentinel written once a download completes
// successfully: its mere presence with Complete true means "skip download
// entirely" (spec.md section 4.5).
type Meta struct {
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Terms    string `json:"terms"`
	Complete bool   `json:"complete"`
}

// Cache is the on-disk, process-shared content store.
type Cache struct {
	baseDir    string
	downloader Downloader
	log        *logrus.Entry

	sf singleflight.Group
}

// Open opens (creating if necessary) the cache rooted at baseDir and sweeps
// orphaned ".part" files left behind by a prior crash: a fresh process's
// inflight map starts empty, so any ".part" found on disk at this point
// cannot belong to an in-progress download (spec.md section 9 Open
// Question, resolved as "in-memory only, no lock file persistence").
func Open(baseDir string, downloader Downloader, log *logrus.Entry) (*Cache, error) {
	filesDir := filepath.Join(baseDir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating content cache directory")
	}
	c := &Cache{baseDir: baseDir, downloader: downloader, log: log}
	if err := c.sweepOrphanedParts(filesDir); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cache) sweepOrphanedParts(filesDir string) error {
	var swept int
	err := filepath.Walk(filesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && strings.HasSuffix(path, ".part") {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return rmErr
			}
			swept++
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "sweeping orphaned .part files")
	}
	if swept > 0 {
		c.log.WithField("count", swept).Info("swept orphaned partial downloads")
	}
	return nil
}

// entryDir returns <cache>/files/<aa>/<bb>/<file-id>_<hash>, the directory
// that eventually holds the single cached file body. Shards are derived
// from the SHA-1 of the file id rather than the id's own bytes, so
// non-hex ids (seen in test fixtures; Stud.IP ids are usually already hex)
// still produce a stable two-level fan-out.
func (c *Cache) entryDir(fileID, encodedHash string) string {
	sum := sha1.Sum([]byte(fileID))
	aa := hexByte(sum[0])
	bb := hexByte(sum[1])
	return filepath.Join(c.baseDir, "files", aa, bb, fileID+"_"+encodedHash)
}

func (c *Cache) metaPath(fileID, encodedHash string) string {
	sum := sha1.Sum([]byte(fileID))
	aa := hexByte(sum[0])
	bb := hexByte(sum[1])
	return filepath.Join(c.baseDir, "files", aa, bb, fileID+"_"+encodedHash+".meta.json")
}

func hexByte(b byte) string {
	const hexDigits = "0123456789abcdef"
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}

// encodeHash turns an opaque, possibly slash-containing remote content hash
// into a URL-safe (and so filesystem-safe) path component.
func encodeHash(hash string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(hash))
}

// sanitizeName strips path separators from a server-provided file name
// before it is used as an on-disk component.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "" {
		name = "file"
	}
	return name
}

// Ensure guarantees f's content is present on disk and returns the path to
// it, fetching it first if necessary. Concurrent callers for the same
// (file-id, content-hash) share a single in-flight download
// (golang.org/x/sync/singleflight), matching the inflight-map design of
// spec.md section 4.5.
func (c *Cache) Ensure(ctx context.Context, f *entity.File) (string, error) {
	hash := f.ResolvedContentHash()
	encHash := encodeHash(hash)
	key := f.ID + "_" + encHash

	dir := c.entryDir(f.ID, encHash)
	metaPath := c.metaPath(f.ID, encHash)
	finalPath := filepath.Join(dir, sanitizeName(f.Name))

	if m, ok := c.readMeta(metaPath); ok && m.Complete {
		return finalPath, nil
	}

	v, err, _ := c.sf.Do(key, func() (any, error) {
		if m, ok := c.readMeta(metaPath); ok && m.Complete {
			return finalPath, nil
		}
		if err := c.download(ctx, f, dir, metaPath, finalPath); err != nil {
			return nil, err
		}
		return finalPath, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Open ensures f's content is cached and returns a fresh, independently
// seekable read-only handle to it (spec.md section 5: "seek state is
// per-handle").
func (c *Cache) Open(ctx context.Context, f *entity.File) (*os.File, error) {
	path, err := c.Ensure(ctx, f)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, &CacheIoError{Op: "open", Path: path, Cause: err}
	}
	return file, nil
}

// Meta returns the sentinel metadata for f if its content has finished
// downloading.
func (c *Cache) Meta(f *entity.File) (*Meta, bool) {
	encHash := encodeHash(f.ResolvedContentHash())
	return c.readMeta(c.metaPath(f.ID, encHash))
}

func (c *Cache) readMeta(path string) (*Meta, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return &m, m.Complete
}

// download streams f's body to a uniquely-named ".part" file, renames it
// into place, and writes the completion sentinel. On any failure the
// partial file is removed and no sentinel is written, so the next Ensure
// call retries from scratch (spec.md section 4.5's failure protocol).
func (c *Cache) download(ctx context.Context, f *entity.File, dir, metaPath, finalPath string) (err error) {
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return &CacheIoError{Op: "mkdir", Path: dir, Cause: mkErr}
	}

	partPath := finalPath + "." + uuid.NewString() + ".part"
	defer func() {
		if err != nil {
			os.Remove(partPath)
		}
	}()

	body, err := c.downloader.Download(ctx, f.DownloadURL)
	if err != nil {
		return err
	}
	defer body.Close()

	part, err := os.Create(partPath)
	if err != nil {
		return &CacheIoError{Op: "create", Path: partPath, Cause: err}
	}
	if _, err = io.Copy(part, body); err != nil {
		part.Close()
		return &CacheIoError{Op: "write", Path: partPath, Cause: err}
	}
	if err = part.Close(); err != nil {
		return &CacheIoError{Op: "close", Path: partPath, Cause: err}
	}

	if err = os.Rename(partPath, finalPath); err != nil {
		return &CacheIoError{Op: "rename", Path: finalPath, Cause: err}
	}

	mimeType := f.MimeType
	if mimeType == "" {
		if detected, detectErr := mimetype.DetectFile(finalPath); detectErr == nil {
			mimeType = detected.String()
		}
	}

	meta := Meta{FileName: f.Name, Size: f.Size, MimeType: mimeType, Terms: f.Terms, Complete: true}
	if err = writeMetaAtomic(metaPath, meta); err != nil {
		return err
	}
	return nil
}

func writeMetaAtomic(path string, meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "marshaling content cache sentinel")
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &CacheIoError{Op: "write", Path: tmp, Cause: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return &CacheIoError{Op: "rename", Path: path, Cause: err}
	}
	return nil
}

// CacheIoError is the CacheIoError member of the error taxonomy (spec.md
// section 7).
type CacheIoError struct {
	Op    string
	Path  string
	Cause error
}

func (e *CacheIoError) Error() string {
	return "studip-fuse: content cache " + e.Op + " " + e.Path + ": " + e.Cause.Error()
}

func (e *CacheIoError) Unwrap() error { return e.Cause }
