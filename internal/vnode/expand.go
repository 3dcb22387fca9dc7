package vnode

import (
	"context"

	"github.com/N-Coder/studip-fuse/internal/entity"
	"github.com/N-Coder/studip-fuse/internal/template"
	"github.com/N-Coder/studip-fuse/internal/token"
)

// childCandidate is one not-yet-disambiguated child produced while
// expanding a node: a rendered display name plus everything needed to
// construct the actual child Node once collisions are resolved.
type childCandidate struct {
	entityID string // used for the disambiguation suffix
	name     string // D(e), the rendered display name before disambiguation
	bindings token.Bindings
	segIndex int
	kind     Kind
	file     *entity.File
}

// expand implements the five-step algorithm of spec.md section 4.3 for one
// unexpanded directory node, dispatching on the grouping level of the next
// template segment still to be applied.
func (t *Tree) expand(ctx context.Context, n *Node) (map[string]*Node, error) {
	if n.segIndex >= len(t.segments) {
		// Nothing left to expand into; an empty, terminal directory.
		return map[string]*Node{}, nil
	}
	seg := t.segments[n.segIndex]

	if !seg.HasTokens() {
		// A pure-literal segment is a single fixed pass-through level: it
		// does not branch or narrow the pending set.
		name := seg.Render(nil)
		cand := childCandidate{
			name:     name,
			bindings: n.bindings,
			segIndex: n.segIndex + 1,
			kind:     KindDirectory,
		}
		return disambiguateAndBuild(n, []childCandidate{cand}), nil
	}

	switch seg.Level {
	case entity.LevelSemester:
		return t.expandSemesterLevel(ctx, n, seg)
	case entity.LevelCourse:
		return t.expandCourseLevel(ctx, n, seg)
	case entity.LevelFolder:
		return t.expandFolderLevel(ctx, n, seg)
	case entity.LevelFile:
		return t.expandFileLevel(ctx, n, seg)
	default:
		return map[string]*Node{}, nil
	}
}

func (t *Tree) expandSemesterLevel(ctx context.Context, n *Node, seg template.Segment) (map[string]*Node, error) {
	semesters, err := t.crawler.ListSemesters(ctx)
	if err != nil {
		return nil, err
	}
	cands := make([]childCandidate, 0, len(semesters))
	for _, s := range semesters {
		b := n.bindings
		b.Semester = s
		values := token.Render(b)
		cands = append(cands, childCandidate{
			entityID: s.ID,
			name:     seg.Render(values),
			bindings: b,
			segIndex: n.segIndex + 1,
			kind:     leafKindFor(t, n.segIndex, entity.LevelSemester),
		})
	}
	return disambiguateAndBuild(n, cands), nil
}

func (t *Tree) expandCourseLevel(ctx context.Context, n *Node, seg template.Segment) (map[string]*Node, error) {
	courses, err := coursesInScope(ctx, t, n.bindings)
	if err != nil {
		return nil, err
	}
	cands := make([]childCandidate, 0, len(courses))
	for _, c := range courses {
		b := n.bindings
		b.Course = c
		values := token.Render(b)
		cands = append(cands, childCandidate{
			entityID: c.ID,
			name:     seg.Render(values),
			bindings: b,
			segIndex: n.segIndex + 1,
			kind:     leafKindFor(t, n.segIndex, entity.LevelCourse),
		})
	}
	return disambiguateAndBuild(n, cands), nil
}

// coursesInScope returns the courses consistent with bindings: the single
// bound course if already known, else the courses of the bound semester, or
// every course the user can see if no semester is bound either.
func coursesInScope(ctx context.Context, t *Tree, b token.Bindings) ([]*entity.Course, error) {
	if b.Course != nil {
		return []*entity.Course{b.Course}, nil
	}
	all, err := t.crawler.ListUserCourses(ctx)
	if err != nil {
		return nil, err
	}
	if b.Semester == nil {
		return all, nil
	}
	out := make([]*entity.Course, 0, len(all))
	for _, c := range all {
		for _, sid := range c.SemesterIDs {
			if sid == b.Semester.ID {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// leafKindFor reports whether the child produced for grouping level lvl at
// template index segIndex is a file leaf: only when lvl is File level and
// this was the template's last segment (spec.md section 3's invariant that
// a file-leaf exists only at depth equal to the segment count).
func leafKindFor(t *Tree, segIndex int, lvl entity.Level) Kind {
	if lvl == entity.LevelFile && segIndex+1 == len(t.segments) {
		return KindFileLeaf
	}
	return KindDirectory
}

// disambiguateAndBuild groups candidates by rendered name, applies the
// disambiguation rule to any group with more than one member (spec.md
// section 4.3 step 4: append a parenthesized suffix derived from the
// candidate's own entity id), and constructs the resulting child Nodes.
func disambiguateAndBuild(parent *Node, cands []childCandidate) map[string]*Node {
	byName := make(map[string][]childCandidate, len(cands))
	for _, c := range cands {
		byName[c.name] = append(byName[c.name], c)
	}

	out := make(map[string]*Node, len(cands))
	for name, group := range byName {
		if len(group) == 1 {
			c := group[0]
			out[name] = buildNode(parent, name, c)
			continue
		}
		for _, c := range group {
			suffix := entity.HexIDPrefix(c.entityID)
			unique := name + " (" + suffix + ")"
			out[unique] = buildNode(parent, unique, c)
		}
	}
	return out
}

func buildNode(parent *Node, name string, c childCandidate) *Node {
	return &Node{
		tree:     parent.tree,
		parent:   parent,
		name:     name,
		segIndex: c.segIndex,
		bindings: c.bindings,
		kind:     c.kind,
		file:     c.file,
		state:    initialStateFor(c.kind),
	}
}

// initialStateFor gives file leaves Expanded state immediately: their
// metadata is already fully known at construction time, they never need a
// further expansion pass.
func initialStateFor(k Kind) State {
	if k == KindFileLeaf {
		return Expanded
	}
	return Unexpanded
}
