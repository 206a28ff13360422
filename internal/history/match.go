package history

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// minMatchableName is the shortest file name (extension included) eligible
// for filename-only matching.
const minMatchableName = 8

// genericStems are file stems too common to identify an image on their own.
var genericStems = map[string]struct{}{
	"default":    {},
	"frame":      {},
	"image":      {},
	"img":        {},
	"photo":      {},
	"pic":        {},
	"picture":    {},
	"sample":     {},
	"screenshot": {},
	"snapshot":   {},
	"test":       {},
	"untitled":   {},
}

// Normalize converts path to the ledger's canonical form: relative to the
// base directory with forward slashes when it lies inside it, otherwise the
// cleaned absolute path.
func (h *Ledger) Normalize(path string) string {
	if path == "" {
		return ""
	}
	p := filepath.Clean(filepath.FromSlash(path))
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(h.baseDir, p)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			p = rel
		}
	}
	return filepath.ToSlash(p)
}

// IsTrained reports whether path was used by a completed session. In strict
// mode only the normalized path is compared. Otherwise a file-name match is
// accepted as a fallback, unless the name is shorter than 8 characters or a
// generic placeholder such as image.jpg.
func (h *Ledger) IsTrained(path string, strict bool) bool {
	n := h.Normalize(path)
	if n == "" {
		return false
	}
	if _, ok := h.trained[n]; ok {
		return true
	}
	if strict {
		return false
	}
	name := filepath.Base(filepath.FromSlash(n))
	if !matchableName(name) {
		return false
	}
	_, ok := h.byName[name]
	return ok
}

// FilterUntrained returns the paths for which IsTrained is false, in input order.
func (h *Ledger) FilterUntrained(paths []string, strict bool) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !h.IsTrained(p, strict) {
			out = append(out, p)
		}
	}
	return out
}

func matchableName(name string) bool {
	if utf8.RuneCountInString(name) < minMatchableName {
		return false
	}
	stem := strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
	_, generic := genericStems[stem]
	return !generic
}
