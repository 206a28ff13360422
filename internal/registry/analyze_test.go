package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/yolo"
)

func writeDataset(t *testing.T, names []string, labels map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if names != nil {
		data, err := yolo.NewDescriptor(names).Marshal()
		if err != nil {
			t.Fatal(err)
		}
		_ = os.WriteFile(filepath.Join(dir, yolo.DescriptorFile), data, 0o644)
		_ = os.WriteFile(filepath.Join(dir, yolo.ClassesFile), yolo.FormatClasses(names), 0o644)
	}
	for rel, body := range labels {
		p := filepath.Join(dir, "labels", rel)
		_ = os.MkdirAll(filepath.Dir(p), 0o755)
		_ = os.WriteFile(p, []byte(body), 0o644)
	}
	return dir
}

func hasFinding(rep *DatasetReport, kind string) bool {
	for _, f := range rep.Findings {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

func TestAnalyze_Consistent(t *testing.T) {
	r, _ := openTemp(t)
	_ = r.AddClass("cat", "", -1)
	_ = r.AddClass("dog", "", -1)
	ds := writeDataset(t, []string{"cat", "dog"}, map[string]string{
		"train/a.txt": "0 0.5 0.5 0.2 0.2\n1 0.4 0.4 0.1 0.1\n",
		"val/b.txt":   "",
	})

	rep, err := r.AnalyzeDataset(ds)
	if err != nil {
		t.Fatalf("AnalyzeDataset: %v", err)
	}
	if !rep.Consistent() {
		t.Errorf("expected no findings, got %+v", rep.Findings)
	}
	if rep.LabelFiles != 2 || rep.Annotations != 2 {
		t.Errorf("label files=%d annotations=%d", rep.LabelFiles, rep.Annotations)
	}
}

func TestAnalyze_OutOfRangeAndDisagreement(t *testing.T) {
	r, _ := openTemp(t)
	_ = r.AddClass("cat", "", -1)
	ds := writeDataset(t, []string{"cat"}, map[string]string{
		"train/a.txt": "0 0.5 0.5 0.2 0.2\n3 0.5 0.5 0.2 0.2\n",
	})
	_ = os.WriteFile(filepath.Join(ds, yolo.ClassesFile), []byte("cat\nfish\n"), 0o644)

	rep, err := r.AnalyzeDataset(ds)
	if err != nil {
		t.Fatal(err)
	}
	if !hasFinding(rep, FindingIDOutOfRange) {
		t.Errorf("missing out-of-range finding: %+v", rep.Findings)
	}
	if len(rep.OutOfRangeIDs) != 1 || rep.OutOfRangeIDs[0] != 3 {
		t.Errorf("out of range = %v", rep.OutOfRangeIDs)
	}
	if !hasFinding(rep, FindingClassesDisagree) {
		t.Errorf("missing descriptor/classes disagreement: %+v", rep.Findings)
	}
	if len(rep.Recommendations) == 0 {
		t.Error("expected recommendations")
	}
}

func TestAnalyze_ReorderChangesMeaning(t *testing.T) {
	r, _ := openTemp(t)
	_ = r.AddClass("cat", "", -1)
	_ = r.AddClass("dog", "", -1)
	ds := writeDataset(t, []string{"cat", "dog"}, map[string]string{
		"train/a.txt": "1 0.5 0.5 0.2 0.2\n",
	})

	if err := r.ReorderClasses([]string{"dog", "cat"}); err != nil {
		t.Fatalf("ReorderClasses: %v", err)
	}
	rep, err := r.AnalyzeDataset(ds)
	if err != nil {
		t.Fatal(err)
	}
	if !hasFinding(rep, FindingIDMeaningChanged) {
		t.Fatalf("expected id meaning finding, got %+v", rep.Findings)
	}
	if len(rep.UsedIDs) != 1 {
		t.Fatalf("used ids = %+v", rep.UsedIDs)
	}
	u := rep.UsedIDs[0]
	if u.ID != 1 || u.DescriptorName != "dog" || u.RegistryName != "cat" {
		t.Errorf("usage = %+v, want id 1 written as dog now cat", u)
	}
}

func TestAnalyze_DoesNotMutate(t *testing.T) {
	r, dir := openTemp(t)
	_ = r.AddClass("cat", "", -1)
	_ = r.Save()
	before, _ := os.ReadFile(filepath.Join(dir, ConfigFile))

	ds := writeDataset(t, nil, map[string]string{"a.txt": "5 0.5 0.5 0.1 0.1\n"})
	rep, err := r.AnalyzeDataset(ds)
	if err != nil {
		t.Fatal(err)
	}
	if !hasFinding(rep, FindingNoDescriptor) || !hasFinding(rep, FindingNoClassesFile) {
		t.Errorf("findings = %+v", rep.Findings)
	}
	after, _ := os.ReadFile(filepath.Join(dir, ConfigFile))
	if string(before) != string(after) {
		t.Error("analyze must not modify the registry")
	}
	if _, err := os.Stat(filepath.Join(ds, yolo.DescriptorFile)); !os.IsNotExist(err) {
		t.Error("analyze must not write manifests")
	}
}

func TestAnalyze_MissingDir(t *testing.T) {
	r, _ := openTemp(t)
	_, err := r.AnalyzeDataset(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
