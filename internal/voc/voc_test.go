package voc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/yoloprep/internal/apperr"
)

const sample = `<annotation>
	<folder>src</folder>
	<filename>a.jpg</filename>
	<source><database>Unknown</database></source>
	<size><width>100</width><height>80</height><depth>3</depth></size>
	<segmented>0</segmented>
	<object>
		<name> cat </name>
		<pose>Unspecified</pose>
		<truncated>1</truncated>
		<difficult>0</difficult>
		<bndbox><xmin>10</xmin><ymin>10.5</ymin><xmax>50</xmax><ymax>50.25</ymax></bndbox>
	</object>
	<object>
		<name>dog</name>
		<bndbox><xmin>0</xmin><ymin>0</ymin><xmax>100</xmax><ymax>80</ymax></bndbox>
	</object>
	<object>
		<name>cat</name>
		<bndbox><xmin>1</xmin><ymin>1</ymin><xmax>2</xmax><ymax>2</ymax></bndbox>
	</object>
</annotation>`

func TestParse_Full(t *testing.T) {
	ann, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ann.Filename != "a.jpg" || ann.Folder != "src" {
		t.Errorf("filename/folder = %q/%q", ann.Filename, ann.Folder)
	}
	if ann.Size != (Size{Width: 100, Height: 80, Depth: 3}) {
		t.Errorf("size = %+v", ann.Size)
	}
	if len(ann.Objects) != 3 {
		t.Fatalf("objects = %d, want 3", len(ann.Objects))
	}
	first := ann.Objects[0]
	if first.Name != "cat" || !first.Truncated || first.Difficult {
		t.Errorf("first object = %+v", first)
	}
	if first.Box != (Box{XMin: 10, YMin: 10.5, XMax: 50, YMax: 50.25}) {
		t.Errorf("box = %+v", first.Box)
	}
	if diff := cmp.Diff([]string{"cat", "dog"}, ann.ClassNames()); diff != "" {
		t.Errorf("ClassNames mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_NoSizeNoObjects(t *testing.T) {
	ann, err := Parse([]byte(`<annotation><filename>x.png</filename></annotation>`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ann.Size.Valid() {
		t.Error("size should be invalid when absent")
	}
	if len(ann.Objects) != 0 {
		t.Errorf("objects = %d", len(ann.Objects))
	}
}

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"not xml":       `{"json": true}`,
		"wrong root":    `<foo></foo>`,
		"empty name":    `<annotation><object><name></name><bndbox><xmin>1</xmin><ymin>1</ymin><xmax>2</xmax><ymax>2</ymax></bndbox></object></annotation>`,
		"no bndbox":     `<annotation><object><name>cat</name></object></annotation>`,
		"bad coord":     `<annotation><object><name>cat</name><bndbox><xmin>a</xmin><ymin>1</ymin><xmax>2</xmax><ymax>2</ymax></bndbox></object></annotation>`,
		"bad size":      `<annotation><size><width>wide</width><height>1</height></size></annotation>`,
		"missing coord": `<annotation><object><name>cat</name><bndbox><xmin>1</xmin><ymin>1</ymin><xmax>2</xmax></bndbox></object></annotation>`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(input)); err == nil {
				t.Errorf("expected error for %s", name)
			}
		})
	}
}

func TestParseFile_MalformedIsTyped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.xml")
	if err := os.WriteFile(path, []byte("<annotation><object>"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ParseFile(path)
	if !errors.Is(err, apperr.ErrMalformedAnnotation) {
		t.Fatalf("err = %v, want ErrMalformedAnnotation", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Path != path {
		t.Errorf("error should carry the file path, got %v", err)
	}
}
