package transfer

import (
	"fmt"
	"path"
	"sort"
)

// ResolveCollisions renames items that share a destination path so that
// each one gets its own remote file. Colliding items get a counter
// inserted before the extension, in input order: two "out/log.txt" items
// become "out/log_1.txt" and "out/log_2.txt". Counters already used by
// another item are skipped.
//
// Items are modified in place. The second result is the number of items
// that were renamed.
func ResolveCollisions(items []Item) ([]Item, int) {
	if len(items) == 0 {
		return items, 0
	}

	byPath := make(map[string][]int)
	taken := make(map[string]bool, len(items))
	for i, it := range items {
		byPath[it.Path] = append(byPath[it.Path], i)
		taken[it.Path] = true
	}

	// Map iteration order is random; walk the duplicates by path so the
	// chosen names are stable.
	var dups []string
	for p, indices := range byPath {
		if len(indices) > 1 {
			dups = append(dups, p)
		}
	}
	sort.Strings(dups)

	renamed := 0
	for _, p := range dups {
		ext := path.Ext(p)
		base := p[:len(p)-len(ext)]
		n := 0
		for _, idx := range byPath[p] {
			var candidate string
			for {
				n++
				candidate = fmt.Sprintf("%s_%d%s", base, n, ext)
				if !taken[candidate] {
					break
				}
			}
			taken[candidate] = true
			items[idx].Path = candidate
			renamed++
		}
	}

	return items, renamed
}
