// Package status implements the Status Reporter (spec.md section 4.7): an
// append-only milestone log plus the pure mapping from a Virtual Node's
// materialization state to the studip-fuse.contents-status extended
// attribute value.
package status

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/N-Coder/studip-fuse/internal/contentcache"
	"github.com/N-Coder/studip-fuse/internal/vnode"
)

// Reporter appends one line per milestone event to a status file.
type Reporter struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (creating if necessary) the status file at path for appending.
func Open(path string) (*Reporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "opening status file")
	}
	return &Reporter{file: f}, nil
}

// Log levels for status lines (spec.md section 4.7's "<ISO-8601-UTC> <level>
// <message>" format).
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event appends one ISO-8601 UTC timestamped "info" milestone line, e.g.
// "session open", "resolver root ready", "mount ready", "shutdown"
// (spec.md section 4.7).
func (r *Reporter) Event(name string) error {
	return r.Eventf(LevelInfo, name)
}

// Eventf appends one ISO-8601 UTC timestamped line at the given level.
func (r *Reporter) Eventf(level, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := fmt.Sprintf("%s %s %s\n", time.Now().UTC().Format(time.RFC3339), level, message)
	_, err := r.file.WriteString(line)
	return err
}

// Close closes the underlying status file.
func (r *Reporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}

// Contents-status values (spec.md section 6).
const (
	Pending     = "pending"
	Available   = "available"
	Failed      = "failed"
	Unknown     = "unknown"
	Unavailable = "unavailable"
)

// ContentsStatus derives the studip-fuse.contents-status value for vn.
// Directories never carry downloadable content of their own, so they are
// reported as "unavailable" regardless of their own expansion progress
// (expansion progress is a structural concept; contents-status is about
// file bytes) — a Virtual Node Tree directory that failed to expand is
// still reported through studip-fuse.contents-exception and via EIO at the
// FUSE boundary, not through this attribute.
func ContentsStatus(vn *vnode.Node, cache *contentcache.Cache) string {
	if vn.Kind() != vnode.KindFileLeaf {
		return Unavailable
	}
	switch vn.State() {
	case vnode.Failed:
		return Failed
	case vnode.Expanded:
		if _, ok := cache.Meta(vn.File()); ok {
			return Available
		}
		return Pending
	default:
		return Unknown
	}
}

// ContentsException returns the text form of the last failure reason for
// vn, or the empty string if vn is not in a failed state.
func ContentsException(vn *vnode.Node) string {
	if err := vn.FailReason(); err != nil {
		return err.Error()
	}
	return ""
}
