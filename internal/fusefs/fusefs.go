// Package fusefs implements the FUSE Operation Dispatcher (spec.md section
// 4.6) on top of bazil.org/fuse: it maps getattr/readdir/open/read/release/
// getxattr/listxattr onto the Virtual Node Tree and Content Cache. The whole
// tree is read-only; every operation that would mutate it is rejected with
// EROFS (spec.md section 1's Non-goals).
package fusefs

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"github.com/sirupsen/logrus"

	"github.com/N-Coder/studip-fuse/internal/contentcache"
	"github.com/N-Coder/studip-fuse/internal/restapi"
	"github.com/N-Coder/studip-fuse/internal/status"
	"github.com/N-Coder/studip-fuse/internal/vnode"
)

// FS is the bazil.org/fuse fs.FS implementation backing the mount.
type FS struct {
	tree   *vnode.Tree
	cache  *contentcache.Cache
	client restapi.Client
	log    *logrus.Entry

	mu         sync.Mutex
	nextHandle uint64
	handles    map[fuse.HandleID]*fileHandle
}

// New builds the dispatcher. client is consulted only for EntityURL
// (spec.md section 6's studip-fuse.url attribute); all enumeration and
// download already flows through tree and cache.
func New(tree *vnode.Tree, cache *contentcache.Cache, client restapi.Client, log *logrus.Entry) *FS {
	return &FS{
		tree:    tree,
		cache:   cache,
		client:  client,
		log:     log,
		handles: map[fuse.HandleID]*fileHandle{},
	}
}

// Root implements fs.FS.
func (f *FS) Root() (fs.Node, error) {
	return &node{fs: f, vn: f.tree.Root()}, nil
}

func (f *FS) allocHandle(file *os.File) *fileHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	h := &fileHandle{owner: f, id: fuse.HandleID(f.nextHandle), file: file}
	f.handles[h.id] = h
	return h
}

func (f *FS) freeHandle(id fuse.HandleID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, id)
}

// node wraps one Virtual Node as a bazil.org/fuse fs.Node.
type node struct {
	fs *FS
	vn *vnode.Node
}

var (
	_ fs.Node               = (*node)(nil)
	_ fs.NodeStringLookuper = (*node)(nil)
	_ fs.HandleReadDirAller = (*node)(nil)
	_ fs.NodeOpener         = (*node)(nil)
	_ fs.NodeGetxattrer     = (*node)(nil)
	_ fs.NodeListxattrer    = (*node)(nil)
)

// Attr implements fs.Node. Directories report a synthetic dir mode; files
// report size from metadata, never from on-disk cache state (spec.md
// section 4.6).
func (n *node) Attr(ctx context.Context, a *fuse.Attr) error {
	if n.vn.Kind() == vnode.KindFileLeaf {
		file := n.vn.File()
		a.Mode = 0o444
		a.Size = uint64(file.Size)
		if !file.ModTime.IsZero() {
			a.Mtime = file.ModTime
			a.Ctime = file.ModTime
		}
		return nil
	}
	a.Mode = os.ModeDir | 0o555
	return nil
}

// Lookup implements fs.NodeStringLookuper: expand this directory if needed
// and return the named child, or ENOENT.
func (n *node) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if err := n.vn.Ensure(ctx); err != nil {
		return nil, mapError(err)
	}
	child, ok := n.vn.Child(name)
	if !ok {
		return nil, fuse.ENOENT
	}
	return &node{fs: n.fs, vn: child}, nil
}

// ReadDirAll implements fs.HandleReadDirAller. Entries are already sorted
// lexicographically by the Virtual Node Tree (spec.md section 5's readdir
// stability); "." and ".." are added by the kernel, not here.
func (n *node) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	if err := n.vn.Ensure(ctx); err != nil {
		return nil, mapError(err)
	}
	children := n.vn.Children()
	out := make([]fuse.Dirent, 0, len(children))
	for _, c := range children {
		typ := fuse.DT_Dir
		if c.Kind() == vnode.KindFileLeaf {
			typ = fuse.DT_File
		}
		out = append(out, fuse.Dirent{Name: c.Name(), Type: typ})
	}
	return out, nil
}

// Open implements fs.NodeOpener. Any write intent is rejected with EROFS;
// only file leaves can be opened, and doing so hands the request to the
// Content Cache, blocking until the content is locally available.
func (n *node) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	if uint32(req.Flags)&syscall.O_ACCMODE != syscall.O_RDONLY {
		return nil, fuse.Errno(syscall.EROFS)
	}
	if n.vn.Kind() != vnode.KindFileLeaf {
		return nil, fuse.Errno(syscall.EISDIR)
	}

	osFile, err := n.fs.cache.Open(ctx, n.vn.File())
	if err != nil {
		return nil, mapError(err)
	}
	h := n.fs.allocHandle(osFile)
	resp.Handle = h.id
	resp.Flags |= fuse.OpenKeepCache
	return h, nil
}

// Getxattr implements fs.NodeGetxattrer, serving the attributes enumerated
// in spec.md section 6.
func (n *node) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	value, err := n.xattrValue(req.Name)
	if err != nil {
		return err
	}
	if value == nil {
		return fuse.Errno(syscall.ENODATA)
	}
	resp.Xattr = value
	return nil
}

// Listxattr implements fs.NodeListxattrer.
func (n *node) Listxattr(ctx context.Context, req *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	for _, name := range xattrNames {
		resp.Append(name)
	}
	return nil
}

var xattrNames = []string{
	"studip-fuse.known-tokens",
	"studip-fuse.json",
	"studip-fuse.contents-status",
	"studip-fuse.contents-exception",
	"studip-fuse.url",
}

func (n *node) xattrValue(name string) ([]byte, error) {
	switch name {
	case "studip-fuse.known-tokens":
		data, err := json.Marshal(n.vn.KnownTokens())
		return data, err
	case "studip-fuse.json":
		e := n.vn.Entity()
		if e == nil {
			return []byte("null"), nil
		}
		data, err := json.Marshal(e)
		return data, err
	case "studip-fuse.contents-status":
		return []byte(status.ContentsStatus(n.vn, n.fs.cache)), nil
	case "studip-fuse.contents-exception":
		return []byte(status.ContentsException(n.vn)), nil
	case "studip-fuse.url":
		e := n.vn.Entity()
		if e == nil {
			return []byte(""), nil
		}
		return []byte(n.fs.client.EntityURL(e)), nil
	default:
		return nil, nil
	}
}

// fileHandle is a counter-allocated open file handle backed by a Content
// Cache read-only os.File.
type fileHandle struct {
	owner *FS
	id    fuse.HandleID
	file  *os.File
}

var (
	_ fs.Handle         = (*fileHandle)(nil)
	_ fs.HandleReader   = (*fileHandle)(nil)
	_ fs.HandleReleaser = (*fileHandle)(nil)
)

// Read implements fs.HandleReader: a positional read against the cached
// file, with POSIX EOF semantics.
func (h *fileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := h.file.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return mapError(err)
	}
	resp.Data = buf[:n]
	return nil
}

// Release implements fs.HandleReleaser: the handle is dropped and the
// underlying file closed.
func (h *fileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	defer h.owner.freeHandle(h.id)
	return h.file.Close()
}
