// Package template compiles a user-supplied path-format string such as
// "{semester-lexical}/{course-class}/{course}/{course-type}/{short-path}/{file-name}"
// into an ordered list of Segments the resolver walks one at a time.
package template

import (
	"strings"

	"github.com/N-Coder/studip-fuse/internal/entity"
	"github.com/N-Coder/studip-fuse/internal/token"
)

// Fragment is either a literal string or a reference to a Token.
type Fragment struct {
	Literal string
	Token   token.Name // empty when this is a literal fragment
}

func (f Fragment) isToken() bool { return f.Token != "" }

// Segment is one '/'-separated unit of the template.
type Segment struct {
	Fragments []Fragment
	// Tokens is the set of distinct tokens referenced by this segment.
	Tokens []token.Name
	// Level is the grouping level of this segment: the maximum level among
	// its tokens, or -1 if it references none (see HasTokens).
	Level entity.Level
	hasLevel bool
}

// HasTokens reports whether this segment references any tokens at all; pure
// literal segments do not participate in grouping.
func (s Segment) HasTokens() bool { return s.hasLevel }

// Render expands a segment's fragments into a display-name string given a
// fully rendered token map.
func (s Segment) Render(values map[token.Name]string) string {
	var b strings.Builder
	for _, f := range s.Fragments {
		if f.isToken() {
			b.WriteString(values[f.Token])
		} else {
			b.WriteString(f.Literal)
		}
	}
	return b.String()
}

// TemplateError is a compile-time error in a format string, raised before
// mount per spec.md section 7.
type TemplateError struct {
	Format string
	Reason string
}

func (e *TemplateError) Error() string {
	return "invalid path template " + "\"" + e.Format + "\": " + e.Reason
}

// Compile parses and validates a format string into an ordered Segment list.
func Compile(format string) ([]Segment, error) {
	if format == "" {
		return nil, &TemplateError{format, "template must not be empty"}
	}
	if strings.HasPrefix(format, "/") || strings.HasSuffix(format, "/") {
		return nil, &TemplateError{format, "template must not start or end with '/'"}
	}

	rawSegments := strings.Split(format, "/")
	segments := make([]Segment, 0, len(rawSegments))

	maxLevel := -1 // below entity.LevelSemester; nothing bound yet
	for _, raw := range rawSegments {
		if raw == "" {
			return nil, &TemplateError{format, "template must not contain an empty segment (consecutive '/')"}
		}
		seg, err := parseSegment(format, raw)
		if err != nil {
			return nil, err
		}
		if seg.hasLevel {
			if int(seg.Level) < maxLevel {
				return nil, &TemplateError{format, "segment \"" + raw + "\" references level " +
					seg.Level.String() + " before it is reachable; levels must be introduced in " +
					"non-decreasing order along the path"}
			}
			maxLevel = int(seg.Level)
		}
		segments = append(segments, seg)
	}
	return segments, nil
}

func parseSegment(format, raw string) (Segment, error) {
	var fragments []Fragment
	var tokens []token.Name
	seen := map[token.Name]bool{}
	maxLevel := entity.Level(-1)
	hasLevel := false

	i := 0
	for i < len(raw) {
		open := strings.IndexByte(raw[i:], '{')
		if open < 0 {
			fragments = append(fragments, Fragment{Literal: raw[i:]})
			break
		}
		open += i
		if open > i {
			fragments = append(fragments, Fragment{Literal: raw[i:open]})
		}
		closeIdx := strings.IndexByte(raw[open:], '}')
		if closeIdx < 0 {
			return Segment{}, &TemplateError{format, "unbalanced '{' in segment \"" + raw + "\""}
		}
		closeIdx += open
		name := token.Name(raw[open+1 : closeIdx])
		if strings.ContainsAny(string(name), "{}") || !token.IsKnown(name) {
			return Segment{}, &TemplateError{format, "unknown token \"" + string(name) + "\" in segment \"" + raw + "\""}
		}
		fragments = append(fragments, Fragment{Token: name})
		if !seen[name] {
			seen[name] = true
			tokens = append(tokens, name)
		}
		lvl := token.Levels[name]
		if !hasLevel || lvl > maxLevel {
			maxLevel = lvl
			hasLevel = true
		}
		i = closeIdx + 1
	}

	// A lone '}' with no matching '{' anywhere is also unbalanced.
	if strings.ContainsRune(raw, '}') && !containsTokenFragment(fragments) && strings.Count(raw, "{") == 0 {
		return Segment{}, &TemplateError{format, "unbalanced '}' in segment \"" + raw + "\""}
	}

	return Segment{Fragments: fragments, Tokens: tokens, Level: maxLevel, hasLevel: hasLevel}, nil
}

func containsTokenFragment(fs []Fragment) bool {
	for _, f := range fs {
		if f.isToken() {
			return true
		}
	}
	return false
}

// MaxLevel returns the deepest entity level any segment of the compiled
// template requires, i.e. the level of the template's leaf.
func MaxLevel(segments []Segment) entity.Level {
	max := entity.LevelSemester
	for _, s := range segments {
		if s.hasLevel && s.Level > max {
			max = s.Level
		}
	}
	return max
}

// IsFileLeafTemplate reports whether the template's final segment groups by
// file level, i.e. whether leaves of the resulting tree are files.
func IsFileLeafTemplate(segments []Segment) bool {
	if len(segments) == 0 {
		return false
	}
	last := segments[len(segments)-1]
	return last.hasLevel && last.Level == entity.LevelFile
}
