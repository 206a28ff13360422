// Package yolo implements the YOLO label format and the dataset manifests
// (data.yaml and classes.txt) consumed by training code.
package yolo

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/starford/yoloprep/internal/voc"
)

// Label is one normalized annotation: class ID plus center/size in [0,1].
type Label struct {
	ClassID int
	CX      float64
	CY      float64
	W       float64
	H       float64
}

// Clamp restricts b to the image bounds. ok is false when the clamped box
// has no area.
func Clamp(b voc.Box, width, height float64) (voc.Box, bool) {
	b.XMin = math.Max(b.XMin, 0)
	b.YMin = math.Max(b.YMin, 0)
	b.XMax = math.Min(b.XMax, width)
	b.YMax = math.Min(b.YMax, height)
	if !(b.XMax > b.XMin) || !(b.YMax > b.YMin) {
		return b, false
	}
	return b, true
}

// labelScale is the resolution of a formatted label value (six decimals).
const labelScale = 1e6

// Normalize clamps b to a width×height image and converts it to YOLO
// center/size form. ok is false for non-positive image sizes and for boxes
// that are degenerate after clamping.
//
// Values are quantized to the six printed decimals so that the formatted
// line keeps cx±w/2 and cy±h/2 inside [0, 1], with an edge on the image
// border landing exactly on 0 or 1.
func Normalize(classID int, b voc.Box, width, height float64) (Label, bool) {
	if !(width > 0) || !(height > 0) {
		return Label{}, false
	}
	b, ok := Clamp(b, width, height)
	if !ok {
		return Label{}, false
	}
	cx, w := span(b.XMin, b.XMax, width)
	cy, h := span(b.YMin, b.YMax, height)
	return Label{ClassID: classID, CX: cx, CY: cy, W: w, H: h}, true
}

// span converts the edges lo..hi on an axis of the given size to a center
// and extent on the labelScale grid. Both edges are rounded to the grid
// first. When their sum is odd the center would fall between grid points,
// so the extent shrinks by one step, keeping the edge that lies on the
// image border (the left/top edge otherwise).
func span(lo, hi, size float64) (center, extent float64) {
	a := math.Max(math.Round(lo/size*labelScale), 0)
	b := math.Min(math.Round(hi/size*labelScale), labelScale)
	if math.Mod(a+b, 2) != 0 {
		if b == labelScale {
			a++
		} else {
			b--
		}
	}
	return (a + b) / 2 / labelScale, (b - a) / labelScale
}

// Denormalize converts l back to absolute pixel coordinates.
func Denormalize(l Label, width, height float64) voc.Box {
	return voc.Box{
		XMin: (l.CX - l.W/2) * width,
		YMin: (l.CY - l.H/2) * height,
		XMax: (l.CX + l.W/2) * width,
		YMax: (l.CY + l.H/2) * height,
	}
}

// String formats l as a label line without the trailing newline.
func (l Label) String() string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", l.ClassID, l.CX, l.CY, l.W, l.H)
}

// FormatLabels renders one line per label, each LF-terminated. An empty
// slice yields an empty (zero byte) file body.
func FormatLabels(labels []Label) []byte {
	var buf bytes.Buffer
	for _, l := range labels {
		buf.WriteString(l.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseLabels reads a label file body. Blank lines are skipped.
func ParseLabels(data []byte) ([]Label, error) {
	var out []Label
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 5 {
			return nil, fmt.Errorf("yolo: line %d: want 5 fields, got %d", line, len(fields))
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("yolo: line %d: class id: %w", line, err)
		}
		var vals [4]float64
		for i := range vals {
			vals[i], err = strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("yolo: line %d: field %d: %w", line, i+2, err)
			}
		}
		out = append(out, Label{ClassID: id, CX: vals[0], CY: vals[1], W: vals[2], H: vals[3]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("yolo: scan: %w", err)
	}
	return out, nil
}
