// Package restapi defines the REST request surface the resolver consumes
// (spec.md section 6: discovery, user, settings, folder-types, course-types,
// semesters, user/:id/courses, course/:id/top_folder, folder/:id, file/:id,
// file/:id/download) and a minimal net/http implementation of it.
//
// Connection pooling, retry policy beyond the single Timeout retry, and the
// OAuth1/basic/SSO authentication dance are collaborator contracts (spec.md
// section 1) and are deliberately not reimplemented here: Client is an
// interface so a richer transport can be substituted without touching the
// Crawler or anything above it.
package restapi

import (
	"context"
	"io"

	"github.com/N-Coder/studip-fuse/internal/entity"
)

// Client is the request surface the Crawler needs.
type Client interface {
	// CheckReachable verifies the discovery/user/settings endpoints are
	// reachable, per spec.md section 6 "Startup verifies these endpoints
	// are reachable and fails fast otherwise".
	CheckReachable(ctx context.Context) error

	ListSemesters(ctx context.Context) ([]*entity.Semester, error)
	ListUserCourses(ctx context.Context) ([]*entity.Course, error)
	TopFolder(ctx context.Context, courseID string) (*entity.Folder, error)
	Folder(ctx context.Context, folderID string) (*entity.Folder, error)
	FileMeta(ctx context.Context, fileID string) (*entity.File, error)

	// Download streams a file's content. Callers must close the returned
	// ReadCloser.
	Download(ctx context.Context, downloadURL string) (io.ReadCloser, error)

	// EntityURL returns the absolute web-interface URL for an entity, for
	// the studip-fuse.url extended attribute.
	EntityURL(e entity.Entity) string
}
