package vnode

import (
	"context"

	"github.com/N-Coder/studip-fuse/internal/crawler"
	"github.com/N-Coder/studip-fuse/internal/entity"
	"github.com/N-Coder/studip-fuse/internal/template"
	"github.com/N-Coder/studip-fuse/internal/token"
)

// usesShortPath reports whether seg references the short-path token
// specifically (as opposed to path, which never strips a generic root).
func usesShortPath(seg template.Segment) bool {
	for _, tk := range seg.Tokens {
		if tk == token.ShortPath {
			return true
		}
	}
	return false
}

// nameBindings builds the bindings used only to render one folder-chain
// directory's own display name: FolderPath is this folder alone, not the
// course-relative accumulation carried on the resulting Node's bindings
// (spec.md section 4.3, "named by the folder's own name"). Rendering the
// display name itself from the full accumulated path would bake every
// ancestor folder's name, slash-joined, into one directory entry.
func nameBindings(base token.Bindings, folder *entity.Folder) token.Bindings {
	b := base
	b.Folder = folder
	b.FolderPath = []string{folder.Name}
	return b
}

// expandFolderLevel implements spec.md section 4.3's "Children of a
// folder-level node require recursive folder traversal": the resolver walks
// the remote folder subtree one real folder at a time, materializing one
// Virtual Node per real folder along the way (named by the folder's own
// name), until it reaches folders that directly hold files, at which point
// the *next* template segment is applied to produce file leaves. A single
// template segment referencing path/short-path thus governs an entire
// chain of tree depths, one per level of real folder nesting.
func (t *Tree) expandFolderLevel(ctx context.Context, n *Node, seg template.Segment) (map[string]*Node, error) {
	if n.bindings.Folder != nil {
		// Already positioned at a specific real folder from an earlier step
		// of the same chain; produce its direct children.
		subtree, err := t.crawler.ListFolderTree(ctx, n.bindings.Course)
		if err != nil {
			return nil, err
		}
		cands, err := t.folderChildren(ctx, n, seg, n.bindings, subtree, n.bindings.Folder)
		if err != nil {
			return nil, err
		}
		return disambiguateAndBuild(n, cands), nil
	}

	// First entry into folder-chain mode: one node per course in scope
	// (ordinarily exactly one, since a template normally binds course
	// before folder; if it does not, every course's subtree is flattened
	// in here, which still visits semester -> course -> folder -> file in
	// order, just without a distinct template-visible course level).
	courses, err := coursesInScope(ctx, t, n.bindings)
	if err != nil {
		return nil, err
	}

	var cands []childCandidate
	for _, course := range courses {
		subtree, err := t.crawler.ListFolderTree(ctx, course)
		if err != nil {
			return nil, err
		}
		top := subtree.Folders[subtree.TopID]
		if top == nil {
			continue
		}
		base := n.bindings
		base.Course = course

		if usesShortPath(seg) && t.genericRoots[top.Name] {
			// The generic-root top folder never becomes a directory of its
			// own (spec.md section 4.1/Scenario 3): its children become
			// direct children of this node instead.
			more, err := t.folderChildren(ctx, n, seg, base, subtree, top)
			if err != nil {
				return nil, err
			}
			cands = append(cands, more...)
			continue
		}

		b := base
		b.Folder = top
		b.FolderPath = subtree.Paths[top.ID]
		cands = append(cands, childCandidate{
			entityID: top.ID,
			name:     seg.Render(token.Render(nameBindings(base, top))),
			bindings: b,
			segIndex: n.segIndex, // still inside the same folder-chain segment
			kind:     KindDirectory,
		})
	}
	return disambiguateAndBuild(n, cands), nil
}

// folderChildren produces the candidate children of one real folder: a
// directory candidate per subfolder (continuing the chain at the same
// template segIndex), plus a file-leaf candidate per file directly inside
// folder when the template segment immediately following the folder chain
// is file-level (spec.md section 4.3's "(file, folder-path) pairs...fed
// into step 3 using path/short-path tokens").
func (t *Tree) folderChildren(ctx context.Context, n *Node, seg template.Segment, base token.Bindings, subtree *crawler.FolderSubtree, folder *entity.Folder) ([]childCandidate, error) {
	var cands []childCandidate

	for _, childID := range folder.ChildFolderIDs {
		child := subtree.Folders[childID]
		if child == nil {
			continue
		}
		b := base
		b.Folder = child
		b.FolderPath = subtree.Paths[child.ID]
		cands = append(cands, childCandidate{
			entityID: child.ID,
			name:     seg.Render(token.Render(nameBindings(base, child))),
			bindings: b,
			segIndex: n.segIndex,
			kind:     KindDirectory,
		})
	}

	nextIdx := n.segIndex + 1
	if nextIdx < len(t.segments) {
		nextSeg := t.segments[nextIdx]
		if nextSeg.HasTokens() && nextSeg.Level == entity.LevelFile {
			for _, fileID := range folder.ChildFileIDs {
				f, err := t.crawler.FetchFileMeta(ctx, fileID)
				if err != nil {
					return nil, err
				}
				b := base
				b.Folder = folder
				b.FolderPath = subtree.Paths[folder.ID]
				b.File = f
				values := token.Render(b)
				cands = append(cands, childCandidate{
					entityID: f.ID,
					name:     nextSeg.Render(values),
					bindings: b,
					segIndex: nextIdx + 1,
					kind:     leafKindFor(t, nextIdx, entity.LevelFile),
					file:     f,
				})
			}
		}
	}

	return cands, nil
}

// expandFileLevel handles a file-level segment reached without any
// preceding folder-level segment: every file anywhere in the scoped
// course(s)' folder subtree is a candidate (spec.md section 4.3 step 2,
// "this may require enumerating all intermediate levels").
func (t *Tree) expandFileLevel(ctx context.Context, n *Node, seg template.Segment) (map[string]*Node, error) {
	var files []*entity.File

	if n.bindings.Folder != nil {
		subtree, err := t.crawler.ListFolderTree(ctx, n.bindings.Course)
		if err != nil {
			return nil, err
		}
		folder := subtree.Folders[n.bindings.Folder.ID]
		if folder != nil {
			for _, fileID := range folder.ChildFileIDs {
				f, err := t.crawler.FetchFileMeta(ctx, fileID)
				if err != nil {
					return nil, err
				}
				files = append(files, f)
			}
		}
	} else {
		courses, err := coursesInScope(ctx, t, n.bindings)
		if err != nil {
			return nil, err
		}
		for _, course := range courses {
			fs, err := t.allFilesOfCourse(ctx, course)
			if err != nil {
				return nil, err
			}
			files = append(files, fs...)
		}
	}

	cands := make([]childCandidate, 0, len(files))
	for _, f := range files {
		b := n.bindings
		b.File = f
		values := token.Render(b)
		cands = append(cands, childCandidate{
			entityID: f.ID,
			name:     seg.Render(values),
			bindings: b,
			segIndex: n.segIndex + 1,
			kind:     leafKindFor(t, n.segIndex, entity.LevelFile),
			file:     f,
		})
	}
	return disambiguateAndBuild(n, cands), nil
}

// allFilesOfCourse flattens every file in course's entire folder subtree.
func (t *Tree) allFilesOfCourse(ctx context.Context, course *entity.Course) ([]*entity.File, error) {
	subtree, err := t.crawler.ListFolderTree(ctx, course)
	if err != nil {
		return nil, err
	}
	var files []*entity.File
	for _, folder := range subtree.Folders {
		for _, fileID := range folder.ChildFileIDs {
			f, err := t.crawler.FetchFileMeta(ctx, fileID)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}
	return files, nil
}
