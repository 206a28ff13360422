package yolo

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/yoloprep/internal/voc"
)

func TestNormalize_Basic(t *testing.T) {
	l, ok := Normalize(0, voc.Box{XMin: 10, YMin: 10, XMax: 50, YMax: 50}, 100, 100)
	if !ok {
		t.Fatal("expected box to be kept")
	}
	if got := l.String(); got != "0 0.300000 0.300000 0.400000 0.400000" {
		t.Errorf("line = %q", got)
	}
}

func TestNormalize_EdgeBox(t *testing.T) {
	l, ok := Normalize(1, voc.Box{XMin: 60, YMin: 0, XMax: 100, YMax: 80}, 100, 80)
	if !ok {
		t.Fatal("edge box should be accepted")
	}
	if l.CX+l.W/2 != 1.0 {
		t.Errorf("cx+w/2 = %v, want exactly 1.0", l.CX+l.W/2)
	}
	if l.CY+l.H/2 != 1.0 {
		t.Errorf("cy+h/2 = %v, want exactly 1.0", l.CY+l.H/2)
	}
}

func TestNormalize_Clamps(t *testing.T) {
	l, ok := Normalize(0, voc.Box{XMin: -5, YMin: -5, XMax: 120, YMax: 90}, 100, 80)
	if !ok {
		t.Fatal("clamped box should be kept")
	}
	want := Label{ClassID: 0, CX: 0.5, CY: 0.5, W: 1, H: 1}
	if l != want {
		t.Errorf("label = %+v, want %+v", l, want)
	}
}

func TestNormalize_Degenerate(t *testing.T) {
	cases := map[string]voc.Box{
		"zero width":      {XMin: 50, YMin: 50, XMax: 50, YMax: 80},
		"inverted":        {XMin: 60, YMin: 10, XMax: 20, YMax: 30},
		"outside right":   {XMin: 120, YMin: 10, XMax: 150, YMax: 30},
		"outside top":     {XMin: 10, YMin: -30, XMax: 20, YMax: -1},
		"zero height pos": {XMin: 10, YMin: 5, XMax: 20, YMax: 5},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok := Normalize(0, b, 100, 100); ok {
				t.Errorf("box %+v should be dropped", b)
			}
		})
	}
	if _, ok := Normalize(0, voc.Box{XMin: 1, YMin: 1, XMax: 2, YMax: 2}, 0, 100); ok {
		t.Error("zero-width image must be rejected")
	}
}

func TestNormalize_Invariants(t *testing.T) {
	boxes := []voc.Box{
		{XMin: 0, YMin: 0, XMax: 1, YMax: 1},
		{XMin: 0.5, YMin: 3.25, XMax: 511.75, YMax: 300},
		{XMin: 17, YMin: 19, XMax: 640, YMax: 480},
	}
	for _, b := range boxes {
		l, ok := Normalize(0, b, 640, 480)
		if !ok {
			t.Fatalf("box %+v dropped", b)
		}
		for _, v := range []float64{l.CX, l.CY, l.W, l.H} {
			if v < 0 || v > 1 || math.IsNaN(v) {
				t.Errorf("value %v out of [0,1] for %+v", v, b)
			}
		}
		const eps = 1e-12
		if l.CX-l.W/2 < -eps || l.CX+l.W/2 > 1+eps || l.CY-l.H/2 < -eps || l.CY+l.H/2 > 1+eps {
			t.Errorf("box %+v leaves the unit square: %+v", b, l)
		}
	}
}

// micro parses a formatted label value into millionths.
func micro(t *testing.T, field string) int64 {
	t.Helper()
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		t.Fatalf("parse %q: %v", field, err)
	}
	return int64(math.Round(v * 1e6))
}

func TestNormalize_FormattedLineStaysInUnitSquare(t *testing.T) {
	for _, size := range []float64{3, 7, 640, 1920} {
		boxes := map[string]voc.Box{
			"right edge":  {XMin: 1, YMin: 0, XMax: size, YMax: size},
			"left edge":   {XMin: 0, YMin: 1, XMax: size - 1, YMax: size},
			"interior":    {XMin: 1, YMin: 1, XMax: size - 1, YMax: size - 1},
			"fractional":  {XMin: size / 3, YMin: size / 7, XMax: size * 2 / 3, YMax: size * 6 / 7},
			"full extent": {XMin: 0, YMin: 0, XMax: size, YMax: size},
		}
		for name, b := range boxes {
			t.Run(fmt.Sprintf("%g/%s", size, name), func(t *testing.T) {
				l, ok := Normalize(0, b, size, size)
				if !ok {
					t.Fatalf("box %+v dropped", b)
				}
				line := l.String()
				f := strings.Fields(line)
				cx, cy, w, h := micro(t, f[1]), micro(t, f[2]), micro(t, f[3]), micro(t, f[4])

				// Work in doubled millionths so half extents stay integral.
				left, right := 2*cx-w, 2*cx+w
				top, bottom := 2*cy-h, 2*cy+h
				if left < 0 || right > 2e6 || top < 0 || bottom > 2e6 {
					t.Errorf("line %q leaves the unit square", line)
				}
				if b.XMax == size && right != 2e6 {
					t.Errorf("line %q: cx+w/2 = %d/2e6, want exactly 1", line, right)
				}
				if b.XMin == 0 && left != 0 {
					t.Errorf("line %q: cx-w/2 = %d/2e6, want exactly 0", line, left)
				}
				if b.YMax == size && bottom != 2e6 {
					t.Errorf("line %q: cy+h/2 = %d/2e6, want exactly 1", line, bottom)
				}
				if b.YMin == 0 && top != 0 {
					t.Errorf("line %q: cy-h/2 = %d/2e6, want exactly 0", line, top)
				}
			})
		}
	}
}

func TestRoundTripWithinOnePixel(t *testing.T) {
	b := voc.Box{XMin: 13, YMin: 7, XMax: 201, YMax: 99}
	l, ok := Normalize(2, b, 256, 128)
	if !ok {
		t.Fatal("box dropped")
	}
	parsed, err := ParseLabels([]byte(l.String() + "\n"))
	if err != nil || len(parsed) != 1 {
		t.Fatalf("ParseLabels: %v (%d)", err, len(parsed))
	}
	back := Denormalize(parsed[0], 256, 128)
	for _, d := range []float64{back.XMin - b.XMin, back.YMin - b.YMin, back.XMax - b.XMax, back.YMax - b.YMax} {
		if math.Abs(d) > 1 {
			t.Errorf("round trip drift %v: %+v vs %+v", d, back, b)
		}
	}
}

func TestFormatLabels(t *testing.T) {
	if got := FormatLabels(nil); len(got) != 0 {
		t.Errorf("empty labels should produce zero bytes, got %q", got)
	}
	got := string(FormatLabels([]Label{{0, 0.5, 0.5, 1, 1}, {1, 0.25, 0.75, 0.1, 0.2}}))
	want := "0 0.500000 0.500000 1.000000 1.000000\n1 0.250000 0.750000 0.100000 0.200000\n"
	if got != want {
		t.Errorf("FormatLabels = %q, want %q", got, want)
	}
}

func TestParseLabels_Errors(t *testing.T) {
	for _, in := range []string{"0 0.5 0.5 1\n", "x 0.5 0.5 1 1\n", "0 a 0.5 1 1\n"} {
		if _, err := ParseLabels([]byte(in)); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestDescriptor_MarshalMapNames(t *testing.T) {
	d := NewDescriptor([]string{"cat", "dog", "1"})
	data, err := d.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{"path: .", "train: images/train", "val: images/val", "nc: 3", "0: cat", "1: dog", `2: "1"`} {
		if !strings.Contains(s, want) {
			t.Errorf("descriptor missing %q:\n%s", want, s)
		}
	}

	back, err := ParseDescriptor(data)
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if diff := cmp.Diff([]string{"cat", "dog", "1"}, []string(back.Names)); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
	if back.NC != 3 {
		t.Errorf("nc = %d", back.NC)
	}
}

func TestParseDescriptor_ListNames(t *testing.T) {
	d, err := ParseDescriptor([]byte("train: images/train\nval: images/val\nnames: [person, car]\n"))
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	if d.NC != 2 {
		t.Errorf("nc derived = %d, want 2", d.NC)
	}
	if d.Names[1] != "car" {
		t.Errorf("names = %v", d.Names)
	}
}

func TestParseDescriptor_GappedMapRejected(t *testing.T) {
	if _, err := ParseDescriptor([]byte("names: {0: a, 2: b}\n")); err == nil {
		t.Error("expected error for non-contiguous ids")
	}
}

func TestClassesFile(t *testing.T) {
	body := FormatClasses([]string{"cat", "dog"})
	if string(body) != "cat\ndog\n" {
		t.Errorf("FormatClasses = %q", body)
	}
	got := ParseClasses([]byte("\xef\xbb\xbfcat\n\n  dog \r\ncat\n"))
	if diff := cmp.Diff([]string{"cat", "dog"}, got); diff != "" {
		t.Errorf("ParseClasses mismatch (-want +got):\n%s", diff)
	}
}
