package zookeeper

import (
	"sort"
	"strings"
)

// rootPath is the one path that always exists for the lifetime of a Storage.
const rootPath = "/"

// normalize canonicalizes a path the way the emulator expects to see it
// everywhere else: a single leading slash, no internal run of slashes, and
// no trailing slash unless keepTrailing is set and the caller's original
// path asked for one (used by sequential creates, which append their
// suffix after any trailing slash the caller supplied).
func normalize(path string, keepTrailing bool) string {
	hadTrailingSlash := strings.HasSuffix(path, "/") && path != "/"
	segments := strings.Split(path, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg != "" {
			kept = append(kept, seg)
		}
	}
	normalized := "/" + strings.Join(kept, "/")
	if keepTrailing && hadTrailingSlash && !strings.HasSuffix(normalized, "/") {
		normalized += "/"
	}
	return normalized
}

// partition returns every ancestor of path, including path itself and the
// root, in ascending depth order ("/" first). It underlies ensure_path and
// makepath-style recursive creation.
func partition(path string) []string {
	seen := map[string]bool{}
	var pieces []string
	cur := path
	for {
		if !seen[cur] {
			seen[cur] = true
			pieces = append(pieces, cur)
		}
		parent := parentOf(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	sort.Strings(pieces)
	return pieces
}

// parentOf returns the immediate parent of path, following the same split
// rule as path/filepath.Split: the parent of "/" is "/" itself.
func parentOf(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx <= 0 {
		return "/"
	}
	return trimmed[:idx]
}

// isChildPath reports whether childPath is (a descendant of | the direct
// child of, when onlyDirect) parentPath. Both paths are split on "/" with
// empty segments (leading/trailing slashes) discarded before comparing.
func isChildPath(parentPath, childPath string, onlyDirect bool) bool {
	parentPieces := splitNonEmpty(parentPath)
	childPieces := splitNonEmpty(childPath)
	if len(childPieces) <= len(parentPieces) {
		return false
	}
	for i, p := range parentPieces {
		if childPieces[i] != p {
			return false
		}
	}
	if onlyDirect {
		return len(childPieces) == len(parentPieces)+1
	}
	return true
}

func splitNonEmpty(path string) []string {
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
