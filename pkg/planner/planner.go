// Package planner merges two tree listings and a rule set into a sync plan.
// The plan is fully computed before anything is mutated, so a run can be
// previewed or aborted before the first side effect.
package planner

import (
	"sort"

	"github.com/hass-tools/confsync/pkg/rules"
	"github.com/hass-tools/confsync/pkg/scanner"
)

// Action is the planned disposition of one path.
type Action string

const (
	// ActionCopy creates or updates the destination path from the source.
	ActionCopy Action = "copy"

	// ActionDelete removes a destination path absent from the source.
	ActionDelete Action = "delete"

	// ActionSkip leaves the path alone.
	ActionSkip Action = "skip"
)

// Item is one path in a sync plan.
type Item struct {
	Path   string
	Kind   scanner.Kind
	Action Action
	Size   int64
	Reason string // why this action was chosen
}

// Plan computes the sync plan for mirroring source onto dest under the given
// rule set. It is a pure function of its inputs and upholds three
// invariants: an excluded path is never copied or deleted, a protected path
// is never deleted, and every destination-only path matched by neither is
// deleted.
//
// Copies are ordered parents before children and deletes children before
// parents, so an executor can apply the sequence without tree awareness.
func Plan(source, dest scanner.Listing, set *rules.Set) []Item {
	var copies, deletes, skips []Item

	for path, src := range source {
		dir := src.Kind == scanner.KindDir

		if set.Classify(path, dir) == rules.ActionExclude {
			skips = append(skips, Item{Path: path, Kind: src.Kind, Action: ActionSkip, Size: src.Size, Reason: "excluded"})
			continue
		}

		dst, exists := dest[path]
		switch {
		case !exists:
			copies = append(copies, Item{Path: path, Kind: src.Kind, Action: ActionCopy, Size: src.Size, Reason: "new"})
		case !src.Identical(dst):
			reason := "content differs"
			if src.Kind != dst.Kind {
				reason = "kind differs"
			}
			copies = append(copies, Item{Path: path, Kind: src.Kind, Action: ActionCopy, Size: src.Size, Reason: reason})
		default:
			skips = append(skips, Item{Path: path, Kind: src.Kind, Action: ActionSkip, Size: src.Size, Reason: "unchanged"})
		}
	}

	for path, dst := range dest {
		if _, exists := source[path]; exists {
			continue
		}
		dir := dst.Kind == scanner.KindDir

		switch set.Classify(path, dir) {
		case rules.ActionExclude:
			skips = append(skips, Item{Path: path, Kind: dst.Kind, Action: ActionSkip, Size: dst.Size, Reason: "excluded"})
		case rules.ActionProtect:
			skips = append(skips, Item{Path: path, Kind: dst.Kind, Action: ActionSkip, Size: dst.Size, Reason: "protected"})
		default:
			deletes = append(deletes, Item{Path: path, Kind: dst.Kind, Action: ActionDelete, Size: dst.Size, Reason: "extraneous"})
		}
	}

	// Parents sort before their children lexicographically, so ascending
	// order creates directories first and descending order empties them
	// before removal.
	sort.Slice(copies, func(i, j int) bool { return copies[i].Path < copies[j].Path })
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].Path > deletes[j].Path })
	sort.Slice(skips, func(i, j int) bool { return skips[i].Path < skips[j].Path })

	items := make([]Item, 0, len(copies)+len(deletes)+len(skips))
	items = append(items, copies...)
	items = append(items, deletes...)
	items = append(items, skips...)
	return items
}

// Stats summarizes a plan.
type Stats struct {
	Copies  int
	Deletes int
	Skips   int
}

// Summarize counts the actions in a plan.
func Summarize(items []Item) Stats {
	var s Stats
	for _, item := range items {
		switch item.Action {
		case ActionCopy:
			s.Copies++
		case ActionDelete:
			s.Deletes++
		case ActionSkip:
			s.Skips++
		}
	}
	return s
}

// Converged reports whether a plan contains no mutations, meaning source and
// destination already agree everywhere the rules allow the sync to look.
func Converged(items []Item) bool {
	for _, item := range items {
		if item.Action != ActionSkip {
			return false
		}
	}
	return true
}
