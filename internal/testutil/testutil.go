// Package testutil provides shared test helpers for building VOC source trees
// and temporary catalogs.
package testutil

import (
	"bytes"
	"encoding/xml"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/starford/yoloprep/internal/catalog"
)

// Obj is one VOC object written by WriteAnnotation.
type Obj struct {
	Name                   string
	XMin, YMin, XMax, YMax float64
}

// TestCatalog creates a temporary SQLite catalog that is closed on cleanup.
func TestCatalog(t *testing.T) *catalog.DB {
	t.Helper()
	db, err := catalog.Open(filepath.Join(t.TempDir(), "yoloprep-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// WriteImage writes a solid w×h image to path. The encoding follows the
// extension: .jpg/.jpeg as JPEG, anything else as PNG.
func WriteImage(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, buf.Bytes())
}

type xmlBox struct {
	XMin string `xml:"xmin"`
	YMin string `xml:"ymin"`
	XMax string `xml:"xmax"`
	YMax string `xml:"ymax"`
}

type xmlObject struct {
	Name      string `xml:"name"`
	Difficult int    `xml:"difficult"`
	BndBox    xmlBox `xml:"bndbox"`
}

type xmlSize struct {
	Width  int `xml:"width"`
	Height int `xml:"height"`
	Depth  int `xml:"depth"`
}

type xmlAnnotation struct {
	XMLName  xml.Name    `xml:"annotation"`
	Folder   string      `xml:"folder"`
	Filename string      `xml:"filename"`
	Size     *xmlSize    `xml:"size,omitempty"`
	Objects  []xmlObject `xml:"object"`
}

// WriteAnnotation writes a VOC XML file. A zero w or h omits <size>.
func WriteAnnotation(t *testing.T, path, imageName string, w, h int, objs ...Obj) {
	t.Helper()
	a := xmlAnnotation{
		Folder:   filepath.Base(filepath.Dir(path)),
		Filename: imageName,
	}
	if w > 0 && h > 0 {
		a.Size = &xmlSize{Width: w, Height: h, Depth: 3}
	}
	for _, o := range objs {
		a.Objects = append(a.Objects, xmlObject{
			Name: o.Name,
			BndBox: xmlBox{
				XMin: num(o.XMin), YMin: num(o.YMin),
				XMax: num(o.XMax), YMax: num(o.YMax),
			},
		})
	}
	data, err := xml.MarshalIndent(a, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, path, append(data, '\n'))
}

// WritePair writes dir/<image> and its sibling dir/<stem>.xml with a <size>
// of w×h. It returns the image path.
func WritePair(t *testing.T, dir, imageName string, w, h int, objs ...Obj) string {
	t.Helper()
	img := filepath.Join(dir, imageName)
	WriteImage(t, img, w, h)
	stem := strings.TrimSuffix(imageName, filepath.Ext(imageName))
	WriteAnnotation(t, filepath.Join(dir, stem+".xml"), filepath.Base(imageName), w, h, objs...)
	return img
}

// ScenarioSource builds the three-pair source tree used by the end-to-end
// conversion tests: a (cat), b (cat, dog), c (dog), all 100×100 JPEGs.
func ScenarioSource(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "src")
	WritePair(t, src, "a.jpg", 100, 100, Obj{Name: "cat", XMin: 10, YMin: 10, XMax: 50, YMax: 50})
	WritePair(t, src, "b.jpg", 100, 100,
		Obj{Name: "cat", XMin: 0, YMin: 0, XMax: 40, YMax: 40},
		Obj{Name: "dog", XMin: 50, YMin: 50, XMax: 100, YMax: 100})
	WritePair(t, src, "c.jpg", 100, 100, Obj{Name: "dog", XMin: 20, YMin: 30, XMax: 60, YMax: 90})
	return src
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
