// Package voc reads Pascal VOC per-image annotation files.
package voc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/starford/yoloprep/internal/apperr"
)

// Box is a bounding box in absolute pixel coordinates.
type Box struct {
	XMin, YMin, XMax, YMax float64
}

// Width of the box; may be negative for malformed input.
func (b Box) Width() float64 { return b.XMax - b.XMin }

// Height of the box; may be negative for malformed input.
func (b Box) Height() float64 { return b.YMax - b.YMin }

// Object is one labelled region.
type Object struct {
	Name      string
	Box       Box
	Difficult bool
	Truncated bool
}

// Size is the image size declared by the annotation.
type Size struct {
	Width  float64
	Height float64
	Depth  int
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Annotation is the content of one VOC file.
type Annotation struct {
	Folder   string
	Filename string
	// Size is the zero value when the file has no <size> element.
	Size    Size
	Objects []Object
}

type rawAnnotation struct {
	XMLName  xml.Name `xml:"annotation"`
	Folder   string   `xml:"folder"`
	Filename string   `xml:"filename"`
	Size     *struct {
		Width  string `xml:"width"`
		Height string `xml:"height"`
		Depth  string `xml:"depth"`
	} `xml:"size"`
	Objects []struct {
		Name   string `xml:"name"`
		BndBox *struct {
			XMin string `xml:"xmin"`
			YMin string `xml:"ymin"`
			XMax string `xml:"xmax"`
			YMax string `xml:"ymax"`
		} `xml:"bndbox"`
		Difficult string `xml:"difficult"`
		Truncated string `xml:"truncated"`
	} `xml:"object"`
}

// ParseFile reads and parses the annotation at path.
func ParseFile(path string) (*Annotation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("voc: read %s: %w", path, err)
	}
	ann, err := Parse(data)
	if err != nil {
		return nil, apperr.New(apperr.ErrMalformedAnnotation, "parse", path, err)
	}
	return ann, nil
}

// Parse decodes VOC XML. Unknown elements are ignored; coordinates may be
// integers or floats.
func Parse(data []byte) (*Annotation, error) {
	var raw rawAnnotation
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode xml: %w", err)
	}

	ann := &Annotation{
		Folder:   strings.TrimSpace(raw.Folder),
		Filename: strings.TrimSpace(raw.Filename),
	}

	if raw.Size != nil {
		w, err := optFloat(raw.Size.Width)
		if err != nil {
			return nil, fmt.Errorf("size width: %w", err)
		}
		h, err := optFloat(raw.Size.Height)
		if err != nil {
			return nil, fmt.Errorf("size height: %w", err)
		}
		d, err := optFloat(raw.Size.Depth)
		if err != nil {
			return nil, fmt.Errorf("size depth: %w", err)
		}
		ann.Size = Size{Width: w, Height: h, Depth: int(d)}
	}

	ann.Objects = make([]Object, 0, len(raw.Objects))
	for i, o := range raw.Objects {
		name := strings.TrimSpace(o.Name)
		if name == "" {
			return nil, fmt.Errorf("object %d: empty <name>", i)
		}
		if o.BndBox == nil {
			return nil, fmt.Errorf("object %d (%s): missing <bndbox>", i, name)
		}
		var box Box
		fields := []struct {
			tag string
			raw string
			dst *float64
		}{
			{"xmin", o.BndBox.XMin, &box.XMin},
			{"ymin", o.BndBox.YMin, &box.YMin},
			{"xmax", o.BndBox.XMax, &box.XMax},
			{"ymax", o.BndBox.YMax, &box.YMax},
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f.raw), 64)
			if err != nil {
				return nil, fmt.Errorf("object %d (%s): <%s>: %w", i, name, f.tag, err)
			}
			*f.dst = v
		}
		ann.Objects = append(ann.Objects, Object{
			Name:      name,
			Box:       box,
			Difficult: flag(o.Difficult),
			Truncated: flag(o.Truncated),
		})
	}
	return ann, nil
}

// ClassNames returns the object names in document order, first occurrence only.
func (a *Annotation) ClassNames() []string {
	seen := make(map[string]struct{}, len(a.Objects))
	var out []string
	for _, o := range a.Objects {
		if _, ok := seen[o.Name]; ok {
			continue
		}
		seen[o.Name] = struct{}{}
		out = append(out, o.Name)
	}
	return out
}

func optFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func flag(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != "0"
}
