// Package token implements the Token Provider: a pure, deterministic mapping
// from (entity level, bound entities) to the rendered string value of every
// template token in the closed set enumerated in spec.md section 6.
package token

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/N-Coder/studip-fuse/internal/entity"
)

// Name is one token from the closed set the template language supports.
type Name string

const (
	Path                Name = "path"
	ShortPath           Name = "short-path"
	Semester            Name = "semester"
	SemesterID          Name = "semester-id"
	SemesterLexical     Name = "semester-lexical"
	SemesterLexicalShort Name = "semester-lexical-short"
	SemesterShort       Name = "semester-short"
	Course              Name = "course"
	CourseAbbrev        Name = "course-abbrev"
	CourseClass         Name = "course-class"
	CourseDescription   Name = "course-description"
	CourseGroup         Name = "course-group"
	CourseID            Name = "course-id"
	CourseLocation      Name = "course-location"
	CourseNumber        Name = "course-number"
	CourseSubtitle      Name = "course-subtitle"
	CourseType          Name = "course-type"
	CourseTypeShort     Name = "course-type-short"
	FileDescription     Name = "file-description"
	FileDownloads       Name = "file-downloads"
	FileID              Name = "file-id"
	FileMimeType        Name = "file-mime-type"
	FileName            Name = "file-name"
	FileSize            Name = "file-size"
	FileStorage         Name = "file-storage"
	FileTerms           Name = "file-terms"
)

// Levels maps every defined token to the entity level it requires to be
// bound before it can be rendered.
var Levels = map[Name]entity.Level{
	Semester:             entity.LevelSemester,
	SemesterID:           entity.LevelSemester,
	SemesterLexical:      entity.LevelSemester,
	SemesterLexicalShort: entity.LevelSemester,
	SemesterShort:        entity.LevelSemester,

	Course:            entity.LevelCourse,
	CourseAbbrev:      entity.LevelCourse,
	CourseClass:       entity.LevelCourse,
	CourseDescription: entity.LevelCourse,
	CourseGroup:       entity.LevelCourse,
	CourseID:          entity.LevelCourse,
	CourseLocation:    entity.LevelCourse,
	CourseNumber:      entity.LevelCourse,
	CourseSubtitle:    entity.LevelCourse,
	CourseType:        entity.LevelCourse,
	CourseTypeShort:   entity.LevelCourse,

	Path:      entity.LevelFolder,
	ShortPath: entity.LevelFolder,

	FileDescription: entity.LevelFile,
	FileDownloads:   entity.LevelFile,
	FileID:          entity.LevelFile,
	FileMimeType:    entity.LevelFile,
	FileName:        entity.LevelFile,
	FileSize:        entity.LevelFile,
	FileStorage:     entity.LevelFile,
	FileTerms:       entity.LevelFile,
}

// IsKnown reports whether name is a member of the closed token set.
func IsKnown(name Name) bool {
	_, ok := Levels[name]
	return ok
}

// Bindings is the partial mapping of levels to concrete entities fixed by a
// Virtual Node's ancestors, plus the folder path accumulated while walking a
// course's folder subtree (needed to render path/short-path).
type Bindings struct {
	Semester *entity.Semester
	Course   *entity.Course
	Folder   *entity.Folder
	File     *entity.File

	// FolderPath is the sequence of folder names from the course's top
	// folder down to (and including) Folder, in root-to-leaf order.
	FolderPath []string

	// GenericRoots are folder names that get stripped from the head of
	// FolderPath when rendering short-path (spec.md 4.1, "generic root").
	GenericRoots map[string]bool
}

// Render computes every defined token's value under these bindings. Missing
// attributes, and tokens whose required level is not yet bound, render as
// the empty string.
func Render(b Bindings) map[Name]string {
	out := make(map[Name]string, len(Levels))
	for name := range Levels {
		out[name] = renderOne(name, b)
	}
	return out
}

func renderOne(name Name, b Bindings) string {
	switch name {
	case Semester:
		if b.Semester == nil {
			return ""
		}
		return b.Semester.Title
	case SemesterID:
		if b.Semester == nil {
			return ""
		}
		return b.Semester.ID
	case SemesterLexical:
		if b.Semester == nil {
			return ""
		}
		return semesterLexical(b.Semester)
	case SemesterLexicalShort:
		if b.Semester == nil {
			return ""
		}
		return semesterLexicalShort(b.Semester)
	case SemesterShort:
		if b.Semester == nil {
			return ""
		}
		// No distinct short-title field exists on Semester (spec.md 3); the
		// lexical short form is the only deterministic short rendering.
		return semesterLexicalShort(b.Semester)

	case Course:
		if b.Course == nil {
			return ""
		}
		return b.Course.Title
	case CourseAbbrev:
		if b.Course == nil {
			return ""
		}
		if b.Course.Abbrev != "" {
			return b.Course.Abbrev
		}
		return courseAbbrev(b.Course.Title)
	case CourseClass:
		return courseField(b.Course, func(c *entity.Course) string { return c.Class })
	case CourseDescription:
		return courseField(b.Course, func(c *entity.Course) string { return c.Description })
	case CourseGroup:
		return courseField(b.Course, func(c *entity.Course) string { return c.Group })
	case CourseID:
		return courseField(b.Course, func(c *entity.Course) string { return c.ID })
	case CourseLocation:
		return courseField(b.Course, func(c *entity.Course) string { return c.Location })
	case CourseNumber:
		return courseField(b.Course, func(c *entity.Course) string { return c.Number })
	case CourseSubtitle:
		return courseField(b.Course, func(c *entity.Course) string { return c.Subtitle })
	case CourseType:
		return courseField(b.Course, func(c *entity.Course) string { return c.Type })
	case CourseTypeShort:
		return courseField(b.Course, func(c *entity.Course) string { return c.TypeShort })

	case Path:
		return strings.Join(b.FolderPath, "/")
	case ShortPath:
		return strings.Join(shortPath(b.FolderPath, b.GenericRoots), "/")

	case FileDescription:
		return fileField(b.File, func(f *entity.File) string { return f.Description })
	case FileDownloads:
		if b.File == nil {
			return ""
		}
		return fmt.Sprintf("%d", b.File.Downloads)
	case FileID:
		return fileField(b.File, func(f *entity.File) string { return f.ID })
	case FileMimeType:
		return fileField(b.File, func(f *entity.File) string { return f.MimeType })
	case FileName:
		return fileField(b.File, func(f *entity.File) string { return f.Name })
	case FileSize:
		if b.File == nil {
			return ""
		}
		return fmt.Sprintf("%d", b.File.Size)
	case FileStorage:
		return fileField(b.File, func(f *entity.File) string { return f.Storage })
	case FileTerms:
		return fileField(b.File, func(f *entity.File) string { return f.Terms })
	}
	return ""
}

func courseField(c *entity.Course, get func(*entity.Course) string) string {
	if c == nil {
		return ""
	}
	return get(c)
}

func fileField(f *entity.File, get func(*entity.File) string) string {
	if f == nil {
		return ""
	}
	return get(f)
}

// semesterLexicalShort computes "<YYYY><WS|SS>" strictly from Begin, per
// spec.md 4.1: WS spans Oct-Mar, SS spans Apr-Sep.
func semesterLexicalShort(s *entity.Semester) string {
	year, isWS := wsYear(s.Begin)
	if isWS {
		return fmt.Sprintf("%dWS", year)
	}
	return fmt.Sprintf("%dSS", year)
}

// semesterLexical additionally appends the trailing year fragment for WS.
func semesterLexical(s *entity.Semester) string {
	year, isWS := wsYear(s.Begin)
	if isWS {
		return fmt.Sprintf("%d WS -%02d", year, (year+1)%100)
	}
	return fmt.Sprintf("%d SS", year)
}

// wsYear returns the winter-semester "start year" (the year the semester's
// lexical form is anchored to) and whether Begin falls in Oct-Mar (WS) as
// opposed to Apr-Sep (SS).
func wsYear(begin time.Time) (int, bool) {
	m := begin.Month()
	switch {
	case m >= time.October:
		return begin.Year(), true
	case m <= time.March:
		return begin.Year() - 1, true
	default:
		return begin.Year(), false
	}
}

// courseAbbrev implements spec.md 4.1's course-abbrev rule: for each
// whitespace-separated word of the title, take its leading run of digits
// followed by its Unicode-uppercase letters (in order of appearance),
// concatenated across words in order. Unicode uppercase (not ASCII folding)
// is used deliberately so German titles with "Ä"/"Ö"/"Ü" contribute their
// letter instead of being silently dropped.
func courseAbbrev(title string) string {
	var b strings.Builder
	for _, word := range strings.Fields(title) {
		runes := []rune(word)
		i := 0
		for i < len(runes) && unicode.IsDigit(runes[i]) {
			b.WriteRune(runes[i])
			i++
		}
		for _, r := range runes {
			if unicode.IsUpper(r) {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// shortPath strips the leading path component when it names a configured
// generic root (spec.md 4.1/9: only the outermost component is ever
// stripped, per the Open Question's documented "safe choice").
func shortPath(path []string, genericRoots map[string]bool) []string {
	if len(path) == 0 {
		return path
	}
	if genericRoots != nil && genericRoots[path[0]] {
		return path[1:]
	}
	return path
}
