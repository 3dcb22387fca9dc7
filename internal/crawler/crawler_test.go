package crawler

import (
	"context"
	"io"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/N-Coder/studip-fuse/internal/entity"
)

// fakeClient is a restapi.Client test double that counts calls per endpoint.
type fakeClient struct {
	topFolderCalls int32
	folderCalls    int32

	course   *entity.Course
	semester *entity.Semester
	folders  map[string]*entity.Folder // id -> folder, including synthetic top folder at id "top"
}

func (f *fakeClient) CheckReachable(ctx context.Context) error { return nil }

func (f *fakeClient) ListSemesters(ctx context.Context) ([]*entity.Semester, error) {
	return []*entity.Semester{f.semester}, nil
}

func (f *fakeClient) ListUserCourses(ctx context.Context) ([]*entity.Course, error) {
	return []*entity.Course{f.course}, nil
}

func (f *fakeClient) TopFolder(ctx context.Context, courseID string) (*entity.Folder, error) {
	atomic.AddInt32(&f.topFolderCalls, 1)
	return f.folders["top"], nil
}

func (f *fakeClient) Folder(ctx context.Context, folderID string) (*entity.Folder, error) {
	atomic.AddInt32(&f.folderCalls, 1)
	return f.folders[folderID], nil
}

func (f *fakeClient) FileMeta(ctx context.Context, fileID string) (*entity.File, error) {
	return &entity.File{ID: fileID}, nil
}

func (f *fakeClient) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeClient) EntityURL(e entity.Entity) string { return "" }

func newFakeTree() *fakeClient {
	return &fakeClient{
		course:   &entity.Course{ID: "c1", Title: "Course", SemesterIDs: []string{"s1"}},
		semester: &entity.Semester{ID: "s1", Title: "WS"},
		folders: map[string]*entity.Folder{
			"top": {ID: "top", Name: "Hauptordner", CourseID: "c1", ChildFolderIDs: []string{"a", "b"}},
			"a":   {ID: "a", Name: "A", CourseID: "c1"},
			"b":   {ID: "b", Name: "B", CourseID: "c1"},
		},
	}
}

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestListFolderTreeWalksSubtree(t *testing.T) {
	fc := newFakeTree()
	c := New(fc, 4, testLog())

	tree, err := c.ListFolderTree(context.Background(), fc.course)
	require.NoError(t, err)
	assert.Len(t, tree.Folders, 3)
	assert.Equal(t, []string{"Hauptordner"}, tree.Paths["top"])
	assert.Equal(t, []string{"Hauptordner", "A"}, tree.Paths["a"])
	assert.Equal(t, []string{"Hauptordner", "B"}, tree.Paths["b"])
}

func TestListFolderTreeCachedAcrossCalls(t *testing.T) {
	fc := newFakeTree()
	c := New(fc, 4, testLog())

	_, err := c.ListFolderTree(context.Background(), fc.course)
	require.NoError(t, err)
	_, err = c.ListFolderTree(context.Background(), fc.course)
	require.NoError(t, err)

	assert.EqualValues(t, 1, atomic.LoadInt32(&fc.topFolderCalls))
}

func TestListFolderTreeConcurrentCallsShareOneFetch(t *testing.T) {
	fc := newFakeTree()
	c := New(fc, 4, testLog())

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := c.ListFolderTree(context.Background(), fc.course)
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, atomic.LoadInt32(&fc.topFolderCalls))
	assert.EqualValues(t, 2, atomic.LoadInt32(&fc.folderCalls))
}

func TestFetchFileMetaCached(t *testing.T) {
	fc := newFakeTree()
	c := New(fc, 4, testLog())

	f1, err := c.FetchFileMeta(context.Background(), "file1")
	require.NoError(t, err)
	f2, err := c.FetchFileMeta(context.Background(), "file1")
	require.NoError(t, err)
	assert.Same(t, f1, f2)
}
