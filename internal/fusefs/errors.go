package fusefs

import (
	"errors"
	"syscall"

	"bazil.org/fuse"

	"github.com/N-Coder/studip-fuse/internal/restapi"
	"github.com/N-Coder/studip-fuse/internal/vnode"
)

// mapError implements spec.md section 7's FUSE error mapping: ENOENT for an
// unknown path, EACCES for auth-related failures, EIO for everything else.
// EROFS (writes) is produced directly at the call site, not here.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, vnode.ErrNotFound) {
		return fuse.ENOENT
	}

	var ce *restapi.CrawlError
	if errors.As(err, &ce) && ce.Kind == restapi.HTTPStatus && (ce.StatusCode == 401 || ce.StatusCode == 403) {
		return fuse.Errno(syscall.EACCES)
	}

	return fuse.Errno(syscall.EIO)
}
