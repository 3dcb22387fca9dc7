package vnode

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/N-Coder/studip-fuse/internal/crawler"
	"github.com/N-Coder/studip-fuse/internal/entity"
	"github.com/N-Coder/studip-fuse/internal/template"
)

// fakeClient is an in-memory restapi.Client double driving the scenarios
// from spec.md section 8.
type fakeClient struct {
	mu        sync.Mutex
	semesters []*entity.Semester
	courses   []*entity.Course
	folders   map[string]*entity.Folder
	files     map[string]*entity.File
	topByCourse map[string]string

	failFolderTree map[string]error // courseID -> error to return from TopFolder
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		folders:     map[string]*entity.Folder{},
		files:       map[string]*entity.File{},
		topByCourse: map[string]string{},
	}
}

func (f *fakeClient) CheckReachable(ctx context.Context) error { return nil }

func (f *fakeClient) ListSemesters(ctx context.Context) ([]*entity.Semester, error) {
	return f.semesters, nil
}

func (f *fakeClient) ListUserCourses(ctx context.Context) ([]*entity.Course, error) {
	return f.courses, nil
}

func (f *fakeClient) TopFolder(ctx context.Context, courseID string) (*entity.Folder, error) {
	if err := f.failFolderTree[courseID]; err != nil {
		return nil, err
	}
	return f.folders[f.topByCourse[courseID]], nil
}

func (f *fakeClient) Folder(ctx context.Context, folderID string) (*entity.Folder, error) {
	return f.folders[folderID], nil
}

func (f *fakeClient) FileMeta(ctx context.Context, fileID string) (*entity.File, error) {
	return f.files[fileID], nil
}

func (f *fakeClient) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	return io.NopCloser(nil), nil
}

func (f *fakeClient) EntityURL(e entity.Entity) string { return "" }

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// scenario1 builds the fixture from spec.md section 8 scenario 1: one
// course, one semester, one file directly in the top folder.
func scenario1(t *testing.T) (*Tree, *entity.File) {
	t.Helper()
	fc := newFakeClient()
	begin, err := time.Parse("2006-01-02", "2018-10-01")
	require.NoError(t, err)
	fc.semesters = []*entity.Semester{{ID: "sem1", Title: "WS18", Begin: begin}}
	fc.courses = []*entity.Course{{ID: "course1", Title: "Algorithmen und Datenstrukturen", SemesterIDs: []string{"sem1"}}}
	fc.folders["top1"] = &entity.Folder{ID: "top1", Name: "Hauptordner", CourseID: "course1", ChildFileIDs: []string{"file1"}}
	fc.topByCourse["course1"] = "top1"
	file := &entity.File{ID: "file1", Name: "A+D141.pdf", Size: 3666701, FolderID: "top1"}
	fc.files["file1"] = file

	segs, err := template.Compile("{semester-lexical-short}/{course}/{file-name}")
	require.NoError(t, err)

	cr := crawler.New(fc, 4, testLog())
	tree := New(cr, segs, map[string]bool{"Hauptordner": true})
	return tree, file
}

func TestScenario1Readdir(t *testing.T) {
	tree, file := scenario1(t)
	ctx := context.Background()

	root, err := tree.Resolve(ctx, nil)
	require.NoError(t, err)
	require.Len(t, root.Children(), 1)
	assert.Equal(t, "2018WS", root.Children()[0].Name())

	sem, err := tree.Resolve(ctx, []string{"2018WS"})
	require.NoError(t, err)
	require.Len(t, sem.Children(), 1)
	assert.Equal(t, "Algorithmen und Datenstrukturen", sem.Children()[0].Name())

	course, err := tree.Resolve(ctx, []string{"2018WS", "Algorithmen und Datenstrukturen"})
	require.NoError(t, err)
	require.Len(t, course.Children(), 1)
	assert.Equal(t, "A+D141.pdf", course.Children()[0].Name())

	leaf, err := tree.Resolve(ctx, []string{"2018WS", "Algorithmen und Datenstrukturen", "A+D141.pdf"})
	require.NoError(t, err)
	assert.True(t, leaf.Kind() == KindFileLeaf)
	assert.Equal(t, file, leaf.File())
	assert.EqualValues(t, 3666701, leaf.File().Size)
}

func TestExpansionIdempotent(t *testing.T) {
	tree, _ := scenario1(t)
	ctx := context.Background()
	root := tree.Root()
	require.NoError(t, root.Ensure(ctx))
	first := root.Children()
	require.NoError(t, root.Ensure(ctx))
	second := root.Children()
	require.Equal(t, len(first), len(second))
	assert.Same(t, first[0], second[0])
}

func TestReaddirStableAcrossCalls(t *testing.T) {
	tree, _ := scenario1(t)
	ctx := context.Background()
	root := tree.Root()
	require.NoError(t, root.Ensure(ctx))
	var names [][]string
	for i := 0; i < 5; i++ {
		var n []string
		for _, c := range root.Children() {
			n = append(n, c.Name())
		}
		names = append(names, n)
	}
	for i := 1; i < len(names); i++ {
		assert.Equal(t, names[0], names[i])
	}
}

func TestDisambiguationOnCollision(t *testing.T) {
	fc := newFakeClient()
	fc.courses = []*entity.Course{
		{ID: "aaaaaaaa1111", Title: "Algorithmen und Datenstrukturen"},
		{ID: "bbbbbbbb2222", Title: "Advanced Databases"},
	}
	for _, c := range fc.courses {
		fc.folders["top-"+c.ID] = &entity.Folder{ID: "top-" + c.ID, Name: "Hauptordner", CourseID: c.ID}
		fc.topByCourse[c.ID] = "top-" + c.ID
	}

	segs, err := template.Compile("{course-abbrev}/{file-name}")
	require.NoError(t, err)
	cr := crawler.New(fc, 4, testLog())
	tree := New(cr, segs, nil)

	root, err := tree.Resolve(context.Background(), nil)
	require.NoError(t, err)
	children := root.Children()
	require.Len(t, children, 2)

	names := map[string]bool{}
	for _, c := range children {
		names[c.Name()] = true
	}
	assert.Contains(t, names, "AD (aaaaaaaa)")
	assert.Contains(t, names, "AD (bbbbbbbb)")

	// Disambiguation is stable across independent resolutions.
	root2, err := tree.Resolve(context.Background(), nil)
	require.NoError(t, err)
	names2 := map[string]bool{}
	for _, c := range root2.Children() {
		names2[c.Name()] = true
	}
	assert.Equal(t, names, names2)
}

func TestShortPathStripsGenericRootOnly(t *testing.T) {
	fc := newFakeClient()
	fc.courses = []*entity.Course{{ID: "c1", Title: "Course"}}
	fc.folders["top"] = &entity.Folder{ID: "top", Name: "Hauptordner", CourseID: "c1", ChildFolderIDs: []string{"sub"}}
	fc.folders["sub"] = &entity.Folder{ID: "sub", Name: "Vorlesung", CourseID: "c1", ChildFileIDs: []string{"f1"}}
	fc.topByCourse["c1"] = "top"
	fc.files["f1"] = &entity.File{ID: "f1", Name: "slides.pdf"}

	segs, err := template.Compile("{course}/{short-path}/{file-name}")
	require.NoError(t, err)
	cr := crawler.New(fc, 4, testLog())
	tree := New(cr, segs, map[string]bool{"Hauptordner": true})

	course, err := tree.Resolve(context.Background(), []string{"Course"})
	require.NoError(t, err)
	require.Len(t, course.Children(), 1)
	assert.Equal(t, "Vorlesung", course.Children()[0].Name())

	leafDir, err := tree.Resolve(context.Background(), []string{"Course", "Vorlesung"})
	require.NoError(t, err)
	require.Len(t, leafDir.Children(), 1)
	assert.Equal(t, "slides.pdf", leafDir.Children()[0].Name())
}

func TestPathTokenAccumulatesAncestorFolders(t *testing.T) {
	fc := newFakeClient()
	fc.courses = []*entity.Course{{ID: "c1", Title: "Course"}}
	fc.folders["top"] = &entity.Folder{ID: "top", Name: "Material", CourseID: "c1", ChildFolderIDs: []string{"lec"}}
	fc.folders["lec"] = &entity.Folder{ID: "lec", Name: "Vorlesung", CourseID: "c1", ChildFileIDs: []string{"f1"}}
	fc.topByCourse["c1"] = "top"
	fc.files["f1"] = &entity.File{ID: "f1", Name: "slides.pdf"}

	segs, err := template.Compile("{course}/{path}/{file-name}")
	require.NoError(t, err)
	cr := crawler.New(fc, 4, testLog())
	tree := New(cr, segs, nil)

	ctx := context.Background()
	top, err := tree.Resolve(ctx, []string{"Course", "Material"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Material"}, top.Bindings().FolderPath)

	lec, err := tree.Resolve(ctx, []string{"Course", "Material", "Vorlesung"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Material", "Vorlesung"}, lec.Bindings().FolderPath)

	file, err := tree.Resolve(ctx, []string{"Course", "Material", "Vorlesung", "slides.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Material", "Vorlesung"}, file.Bindings().FolderPath)
	assert.Equal(t, "slides.pdf", file.Name())
}

func TestFailedExpansionPropagatesToDescendants(t *testing.T) {
	fc := newFakeClient()
	fc.courses = []*entity.Course{{ID: "c1", Title: "Broken"}, {ID: "c2", Title: "Fine"}}
	fc.folders["top2"] = &entity.Folder{ID: "top2", Name: "Hauptordner", CourseID: "c2", ChildFileIDs: []string{"f1"}}
	fc.topByCourse["c2"] = "top2"
	fc.files["f1"] = &entity.File{ID: "f1", Name: "ok.pdf"}
	fc.failFolderTree = map[string]error{"c1": errors.New("network outage")}

	segs, err := template.Compile("{course}/{file-name}")
	require.NoError(t, err)
	cr := crawler.New(fc, 4, testLog())
	tree := New(cr, segs, nil)

	ctx := context.Background()
	// A path below the failed course fails with it.
	_, err = tree.Resolve(ctx, []string{"Broken", "ok.pdf"})
	require.Error(t, err)

	// The sibling course remains reachable.
	node, err := tree.Resolve(ctx, []string{"Fine", "ok.pdf"})
	require.NoError(t, err)
	assert.True(t, node.Kind() == KindFileLeaf)

	// Listing the failed node again surfaces the same recorded error, no retry.
	_, err2 := tree.Resolve(ctx, []string{"Broken"})
	require.Error(t, err2)
}
