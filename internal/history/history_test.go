package history

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// frozenClock always reports the same instant.
func frozenClock() func() time.Time {
	at := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	return func() time.Time { return at }
}

func openTemp(t *testing.T, opts ...Option) (*Ledger, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "configs", "training_history.json")
	opts = append([]Option{WithLogger(quietLogger()), WithBaseDir(dir)}, opts...)
	h, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return h, dir
}

func TestLoad_MissingIsEmpty(t *testing.T) {
	h, _ := openTemp(t)
	if st := h.Stats(); st.TotalSessions != 0 || st.TotalTrainedImages != 0 {
		t.Errorf("stats = %+v", st)
	}
	if _, err := os.Stat(h.Path()); !os.IsNotExist(err) {
		t.Error("loading a missing ledger should not create the file")
	}
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "training_history.json")
	_ = os.WriteFile(path, []byte("{not json"), 0o644)

	_, err := Open(path, WithLogger(quietLogger()), WithBaseDir(dir))
	if !errors.Is(err, apperr.ErrHistoryCorrupt) {
		t.Fatalf("err = %v, want ErrHistoryCorrupt", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json" {
		t.Error("a corrupt ledger must not be overwritten")
	}
}

func TestAddSession_PersistsAndReloads(t *testing.T) {
	h, dir := openTemp(t, WithClock(frozenClock()))
	abs := filepath.Join(dir, "datasets", "a", "img_unique_name.jpg")

	id, err := h.AddSession("run 1", "datasets/a", []string{abs, "datasets/a/other_name.png"}, "", map[string]any{"epochs": 10})
	if err != nil {
		t.Fatalf("AddSession: %v", err)
	}
	if id != "session_20240301_123045" {
		t.Errorf("id = %q", id)
	}

	reloaded, err := Open(h.Path(), WithLogger(quietLogger()), WithBaseDir(dir))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	sessions := reloaded.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d", len(sessions))
	}
	s := sessions[0]
	want := []string{"datasets/a/img_unique_name.jpg", "datasets/a/other_name.png"}
	if diff := cmp.Diff(want, s.ImageFiles); diff != "" {
		t.Errorf("image files (-want +got):\n%s", diff)
	}
	if s.ImageCount != 2 || s.Status != StatusCompleted || s.ModelPath != nil {
		t.Errorf("session = %+v", s)
	}
	if s.TrainingConfig["epochs"] != float64(10) {
		t.Errorf("training config = %v", s.TrainingConfig)
	}
}

func TestAddSession_IDCollision(t *testing.T) {
	h, _ := openTemp(t, WithClock(frozenClock()))
	var ids []string
	for range 3 {
		id, err := h.AddSession("run", "ds", []string{"x_longer_name.jpg"}, "", nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	want := []string{"session_20240301_123045", "session_20240301_123045_2", "session_20240301_123045_3"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
}

func TestAddSession_PersistFailureKeepsState(t *testing.T) {
	dir := t.TempDir()
	fs, err := storage.NewFS(dir, storage.WithRename(func(string, string) error {
		return errors.New("disk full")
	}))
	if err != nil {
		t.Fatal(err)
	}
	h, err := Open(filepath.Join(dir, "h.json"), WithLogger(quietLogger()), WithBaseDir(dir), WithStore(fs))
	if err != nil {
		t.Fatal(err)
	}

	id, err := h.AddSession("run", "ds", []string{"some_image_file.jpg"}, "", nil)
	if !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if id != "" {
		t.Errorf("id = %q, want empty", id)
	}
	if len(h.Sessions()) != 0 || h.IsTrained("some_image_file.jpg", true) {
		t.Error("failed append must not change the ledger")
	}
}

// Filename fallback with the short and generic name guard.
func TestIsTrained_SmartGuard(t *testing.T) {
	h, _ := openTemp(t)
	if _, err := h.AddSession("s", "datasets/a", []string{
		"datasets/a/img_unique_name.jpg",
		"datasets/a/image.jpg",
		"datasets/a/a.jpg",
	}, "", nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path   string
		strict bool
		want   bool
	}{
		{"other/path/img_unique_name.jpg", false, true},
		{"other/path/image.jpg", false, false},
		{"datasets/a/img_unique_name.jpg", true, true},
		{"other/path/img_unique_name.jpg", true, false},
		{"other/a.jpg", false, false},
		{"datasets/a/a.jpg", false, true},
		{"other/path/IMAGE.jpg", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		if got := h.IsTrained(tt.path, tt.strict); got != tt.want {
			t.Errorf("IsTrained(%q, strict=%v) = %v, want %v", tt.path, tt.strict, got, tt.want)
		}
	}
}

func TestIsTrained_AbsoluteNormalized(t *testing.T) {
	h, dir := openTemp(t)
	_, _ = h.AddSession("s", "src", []string{"src/a.jpg"}, "", nil)

	if !h.IsTrained(filepath.Join(dir, "src", "a.jpg"), true) {
		t.Error("absolute path under the base dir should match its relative record")
	}
	outside := filepath.Join(t.TempDir(), "src", "a.jpg")
	if h.IsTrained(outside, true) {
		t.Error("path outside the base dir should not match")
	}
	if n := h.Normalize(outside); !filepath.IsAbs(filepath.FromSlash(n)) {
		t.Errorf("outside path normalized to %q, want absolute", n)
	}
}

func TestFilterUntrained_OrderAndIdempotence(t *testing.T) {
	h, _ := openTemp(t)
	_, _ = h.AddSession("s", "ds", []string{"ds/bravo_frame_001.jpg", "ds/delta_frame_003.jpg"}, "", nil)

	in := []string{
		"ds/echo_frame_004.jpg",
		"ds/bravo_frame_001.jpg",
		"elsewhere/delta_frame_003.jpg",
		"ds/alpha_frame_000.jpg",
	}
	once := h.FilterUntrained(in, false)
	want := []string{"ds/echo_frame_004.jpg", "ds/alpha_frame_000.jpg"}
	if diff := cmp.Diff(want, once); diff != "" {
		t.Errorf("filter (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(once, h.FilterUntrained(once, false)); diff != "" {
		t.Errorf("filter not idempotent (-once +twice):\n%s", diff)
	}

	strict := h.FilterUntrained(in, true)
	if len(strict) != 3 {
		t.Errorf("strict filter = %v", strict)
	}
}

func TestStats(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h, _ := openTemp(t, WithClock(func() time.Time {
		now = now.Add(time.Hour)
		return now
	}))
	_, _ = h.AddSession("one", "ds", []string{"ds/first_image.jpg", "ds/second_image.jpg"}, "", nil)
	_, _ = h.AddSession("two", "ds", []string{"ds/second_image.jpg", "ds/third_image.jpg"}, "runs/best.pt", nil)

	st := h.Stats()
	if st.TotalSessions != 2 || st.TotalTrainedImages != 3 {
		t.Errorf("stats = %+v", st)
	}
	if !strings.HasPrefix(st.LastTraining, "2024-01-01T0") || st.HistoryFile != h.Path() {
		t.Errorf("stats = %+v", st)
	}
	if got := len(h.TrainedImages()); got != 3 {
		t.Errorf("trained images = %d", got)
	}
}

func TestClear(t *testing.T) {
	h, _ := openTemp(t)
	paths := []string{"ds/first_image.jpg", "ds/second_image.jpg"}
	_, _ = h.AddSession("s", "ds", paths, "", nil)

	if err := h.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, p := range append(paths, "x/first_image.jpg") {
		if h.IsTrained(p, false) {
			t.Errorf("IsTrained(%q) after clear", p)
		}
	}

	reloaded, err := Open(h.Path(), WithLogger(quietLogger()), WithBaseDir(h.BaseDir()))
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Sessions()) != 0 {
		t.Error("cleared ledger should persist empty")
	}
}
