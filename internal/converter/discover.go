package converter

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/imageinfo"
)

// pair is one image with its sibling annotation.
type pair struct {
	Stem  string
	Image string // absolute
	XML   string // absolute
	Rel   string // image path relative to the source dir, slash separated
}

type discovery struct {
	Pairs           []pair
	UnmatchedImages []string
	UnmatchedXMLs   []string
	Collisions      []string
}

// discover walks src for image/XML siblings. Directories in skip are not
// descended into. Pairs come back sorted by relative image path with one
// pair per stem; later pairs sharing a stem are reported as collisions.
func discover(src string, skip func(dir string) bool) (*discovery, error) {
	type entry struct {
		images []string
		xml    string
	}
	// Keyed by directory + stem.
	groups := make(map[string]*entry)
	var keys []string
	get := func(key string) *entry {
		e, ok := groups[key]
		if !ok {
			e = &entry{}
			groups[key] = e
			keys = append(keys, key)
		}
		return e
	}

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != src && skip(p) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := filepath.Ext(p)
		key := strings.TrimSuffix(p, ext)
		switch {
		case strings.EqualFold(ext, ".xml"):
			e := get(key)
			if e.xml == "" || p < e.xml {
				e.xml = p
			}
		case imageinfo.IsImage(ext):
			e := get(key)
			e.images = append(e.images, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("converter: walk %s: %w", src, err)
	}

	out := &discovery{}
	var candidates []pair
	for _, k := range keys {
		e := groups[k]
		sort.Strings(e.images)
		switch {
		case len(e.images) == 0:
			out.UnmatchedXMLs = append(out.UnmatchedXMLs, rel(src, e.xml))
			continue
		case e.xml == "":
			for _, img := range e.images {
				out.UnmatchedImages = append(out.UnmatchedImages, rel(src, img))
			}
			continue
		}
		for _, img := range e.images[1:] {
			out.Collisions = append(out.Collisions, rel(src, img))
		}
		img := e.images[0]
		stem := strings.TrimSuffix(filepath.Base(img), filepath.Ext(img))
		if err := checkStem(stem); err != nil {
			return nil, apperr.New(apperr.ErrUnsafePath, "discover", img, err)
		}
		candidates = append(candidates, pair{Stem: stem, Image: img, XML: e.xml, Rel: rel(src, img)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Rel < candidates[j].Rel })
	seen := make(map[string]struct{}, len(candidates))
	for _, p := range candidates {
		if _, dup := seen[p.Stem]; dup {
			out.Collisions = append(out.Collisions, p.Rel)
			continue
		}
		seen[p.Stem] = struct{}{}
		out.Pairs = append(out.Pairs, p)
	}
	sort.Strings(out.UnmatchedImages)
	sort.Strings(out.UnmatchedXMLs)
	sort.Strings(out.Collisions)
	return out, nil
}

func checkStem(stem string) error {
	switch {
	case stem == "" || stem == "." || stem == "..":
		return fmt.Errorf("stem %q is not a file name", stem)
	case strings.ContainsAny(stem, `/\`):
		return fmt.Errorf("stem %q contains a path separator", stem)
	}
	return nil
}

func rel(base, p string) string {
	r, err := filepath.Rel(base, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}
