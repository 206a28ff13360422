package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSyncRoundTrip(t *testing.T) {
	r, _ := openTemp(t)
	for _, n := range []string{"cat", "dog", "traffic light"} {
		_ = r.AddClass(n, "", -1)
	}
	path := filepath.Join(t.TempDir(), "user", "predefined_classes.txt")

	if err := r.SyncToFile(path); err != nil {
		t.Fatalf("SyncToFile: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "cat\ndog\ntraffic light\n" {
		t.Errorf("file = %q", data)
	}

	before := r.Classes()
	changed, err := r.SyncFromFile(path)
	if err != nil {
		t.Fatalf("SyncFromFile: %v", err)
	}
	if changed {
		t.Error("sync of an identical file should not change the registry")
	}
	if diff := cmp.Diff(before, r.Classes()); diff != "" {
		t.Errorf("round trip changed classes (-want +got):\n%s", diff)
	}
}

func TestSyncFromFile_FileWins(t *testing.T) {
	r, dir := openTemp(t)
	_ = r.AddClass("cat", "feline", -1)
	_ = r.AddClass("dog", "", -1)
	_ = r.Save()

	path := filepath.Join(t.TempDir(), "predefined_classes.txt")
	_ = os.WriteFile(path, []byte("dog\n\ncat\nfish\ndog\n"), 0o644)

	changed, err := r.SyncFromFile(path)
	if err != nil {
		t.Fatalf("SyncFromFile: %v", err)
	}
	if !changed {
		t.Fatal("expected change")
	}
	want := []string{"dog", "cat", "fish"}
	if diff := cmp.Diff(want, r.Classes()); diff != "" {
		t.Errorf("classes (-want +got):\n%s", diff)
	}
	doc := r.Document()
	for i, n := range want {
		m := doc.ClassMetadata[n]
		if m.Source != SourcePredefinedFile || m.OriginalID != i {
			t.Errorf("metadata[%s] = %+v", n, m)
		}
	}
	if doc.ClassMetadata["cat"].Description != "feline" {
		t.Error("existing description should survive the sync")
	}

	// Persisted.
	reloaded, err := Open(dir, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, reloaded.Classes()); diff != "" {
		t.Errorf("reloaded classes (-want +got):\n%s", diff)
	}
}

func TestSyncFromFile_MissingOrEmpty(t *testing.T) {
	r, _ := openTemp(t)
	_ = r.AddClass("cat", "", -1)

	changed, err := r.SyncFromFile(filepath.Join(t.TempDir(), "nope.txt"))
	if err != nil || changed {
		t.Errorf("missing file: changed=%v err=%v", changed, err)
	}

	empty := filepath.Join(t.TempDir(), "empty.txt")
	_ = os.WriteFile(empty, []byte("\n\n"), 0o644)
	changed, err = r.SyncFromFile(empty)
	if err != nil || changed {
		t.Errorf("empty file: changed=%v err=%v", changed, err)
	}
	if r.Len() != 1 {
		t.Error("registry must not shrink from an empty file")
	}
}
