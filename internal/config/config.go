// Package config collects the settings needed to start a mount: API
// endpoint, credentials collaborator details are out of scope (spec.md
// section 1), but everything this system itself owns lives here.
package config

import (
	"time"

	"github.com/N-Coder/studip-fuse/internal/restapi"
)

// Options are the settings a studip-fuse invocation is parameterized by.
type Options struct {
	// APIBaseURL is the Stud.IP REST API endpoint, e.g.
	// "https://studip.example.edu/studip/api.php".
	APIBaseURL string

	// Mountpoint is the local directory the Virtual Node Tree is mounted at.
	Mountpoint string

	// CacheDir is the Content Cache's on-disk root (spec.md section 4.5).
	CacheDir string

	// StatusDir is the directory studip-status.txt is written into (spec.md
	// section 4.7); typically the user's data directory.
	StatusDir string

	// Template is the uncompiled path-format string (spec.md section 4.2).
	Template string

	// GenericRoots names course top-folders that short-path strips
	// (spec.md section 4.1), e.g. "Hauptordner" for a German install.
	GenericRoots []string

	// Concurrency bounds the crawler's in-flight request fan-out
	// (spec.md section 4.4); <= 0 uses crawler.DefaultConcurrency.
	Concurrency int

	// Timeouts are the per-request HTTP timeouts (spec.md section 5).
	Timeouts restapi.Timeouts
}

// DefaultTemplate groups files by semester, course and course-relative folder
// path (generic root stripped); it is shorter than the example in the
// template package doc, which also has course-class and course-type levels.
const DefaultTemplate = "{semester-lexical}/{course}/{short-path}/{file-name}"

// DefaultTimeouts are reasonable defaults for the three HTTP timeout knobs.
func DefaultTimeouts() restapi.Timeouts {
	return restapi.Timeouts{
		Connect:   10 * time.Second,
		Read:      30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
}

// GenericRootSet turns GenericRoots into the set form the Virtual Node Tree
// wants.
func (o Options) GenericRootSet() map[string]bool {
	set := make(map[string]bool, len(o.GenericRoots))
	for _, name := range o.GenericRoots {
		set[name] = true
	}
	return set
}
