// Package crawler is the thin façade over the Stud.IP REST surface
// (spec.md section 4.4): it turns restapi.Client calls into cached,
// de-duplicated, bounded-fan-out enumeration of the remote hierarchy.
package crawler

import (
	"context"
	"sync"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/N-Coder/studip-fuse/internal/entity"
	"github.com/N-Coder/studip-fuse/internal/restapi"
)

// DefaultConcurrency is the default K: the number of folder requests one
// folder-tree walk issues at once. The bound is per walk; requests of
// different walks and of the other Crawler operations are not counted
// against it.
const DefaultConcurrency = 10

// Crawler enumerates the remote hierarchy on demand. Every list/fetch
// operation is cached process-locally keyed by the request, and concurrent
// callers for the same key share one in-flight request (golang.org/x/sync/singleflight),
// matching the "shared futures" design note of spec.md section 9.
type Crawler struct {
	client      restapi.Client
	concurrency int
	log         *logrus.Entry

	cache *gocache.Cache // never expires within a run; see spec.md section 3 Lifecycle
	sf    singleflight.Group
}

// New builds a Crawler. concurrency <= 0 uses DefaultConcurrency.
func New(client restapi.Client, concurrency int, log *logrus.Entry) *Crawler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Crawler{
		client:      client,
		concurrency: concurrency,
		log:         log,
		cache:       gocache.New(gocache.NoExpiration, gocache.NoExpiration),
	}
}

// FolderSubtree is the flattened result of walking a course's folder tree:
// every folder in the subtree, plus the root-to-folder name path for each
// (needed by the Token Provider's path/short-path tokens).
type FolderSubtree struct {
	TopID   string
	Folders map[string]*entity.Folder // by folder id
	Paths   map[string][]string       // folder id -> names from top folder to this folder (inclusive)
}

// ListSemesters returns the semesters that contain at least one of the
// user's courses (spec.md section 4.4).
func (c *Crawler) ListSemesters(ctx context.Context) ([]*entity.Semester, error) {
	courses, err := c.ListUserCourses(ctx)
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, course := range courses {
		for _, sid := range course.SemesterIDs {
			wanted[sid] = true
		}
	}

	v, err, _ := c.sf.Do("semesters", func() (any, error) {
		if cached, ok := c.cache.Get("semesters"); ok {
			return cached, nil
		}
		all, err := c.client.ListSemesters(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault("semesters", all)
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	all := v.([]*entity.Semester)

	out := make([]*entity.Semester, 0, len(wanted))
	for _, s := range all {
		if wanted[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

// ListUserCourses returns every course the authenticated user can access.
func (c *Crawler) ListUserCourses(ctx context.Context) ([]*entity.Course, error) {
	v, err, _ := c.sf.Do("user-courses", func() (any, error) {
		if cached, ok := c.cache.Get("user-courses"); ok {
			return cached, nil
		}
		courses, err := c.client.ListUserCourses(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault("user-courses", courses)
		return courses, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*entity.Course), nil
}

// ListFolderTree walks the full subtree rooted at course's top folder.
// Results are cached keyed by course.id; a concurrent second call for the
// same course shares the first call's in-flight future.
func (c *Crawler) ListFolderTree(ctx context.Context, course *entity.Course) (*FolderSubtree, error) {
	key := "folder-tree:" + course.ID
	v, err, _ := c.sf.Do(key, func() (any, error) {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
		tree, err := c.walkFolderTree(ctx, course.ID)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, tree)
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FolderSubtree), nil
}

// FetchFileMeta fetches (and caches) a single file's metadata by id.
func (c *Crawler) FetchFileMeta(ctx context.Context, fileID string) (*entity.File, error) {
	key := "file:" + fileID
	v, err, _ := c.sf.Do(key, func() (any, error) {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
		f, err := c.client.FileMeta(ctx, fileID)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.File), nil
}

// walkFolderTree performs a bounded-fan-out BFS over the course's folder
// tree, one level at a time. Each level's errgroup.Go calls are issued by
// this single caller, never by a goroutine the errgroup itself is tracking
// — recursing g.Go from inside g.Go under SetLimit(K) can fill all K slots
// with workers blocked trying to launch their own children, deadlocking the
// whole walk. A fresh, separately-limited errgroup per level keeps the
// producer (this function) outside the pool it waits on.
func (c *Crawler) walkFolderTree(ctx context.Context, courseID string) (*FolderSubtree, error) {
	top, err := c.client.TopFolder(ctx, courseID)
	if err != nil {
		return nil, err
	}

	tree := &FolderSubtree{
		TopID:   top.ID,
		Folders: map[string]*entity.Folder{top.ID: top},
		Paths:   map[string][]string{top.ID: {top.Name}},
	}

	type pending struct {
		id         string
		parentPath []string
	}

	frontier := make([]pending, 0, len(top.ChildFolderIDs))
	for _, childID := range top.ChildFolderIDs {
		frontier = append(frontier, pending{id: childID, parentPath: tree.Paths[top.ID]})
	}

	for len(frontier) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.concurrency)

		var mu sync.Mutex
		next := make([]pending, 0)

		for _, job := range frontier {
			job := job
			g.Go(func() error {
				child, err := c.client.Folder(gctx, job.id)
				if err != nil {
					return err
				}
				childPath := append(append([]string{}, job.parentPath...), child.Name)

				mu.Lock()
				tree.Folders[child.ID] = child
				tree.Paths[child.ID] = childPath
				for _, grandchildID := range child.ChildFolderIDs {
					next = append(next, pending{id: grandchildID, parentPath: childPath})
				}
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}
		frontier = next
	}

	return tree, nil
}
