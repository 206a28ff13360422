package prepservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/history"
	"github.com/starford/yoloprep/internal/registry"
	"github.com/starford/yoloprep/internal/sse"
	"github.com/starford/yoloprep/internal/testutil"
)

// recorder collects published events.
type recorder struct {
	mu       sync.Mutex
	events   []string
	progress int
}

func (r *recorder) Publish(e sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
}

func (r *recorder) PublishProgress(string, int, int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T, opts ...Option) (*Service, *recorder) {
	t.Helper()
	dir := t.TempDir()
	reg, err := registry.Open(filepath.Join(dir, "configs"), registry.WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := history.Open(filepath.Join(dir, "configs", "training_history.json"),
		history.WithLogger(quietLogger()), history.WithBaseDir(dir))
	if err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	opts = append([]Option{
		WithLogger(quietLogger()),
		WithPublisher(rec),
		WithPredefinedFile(filepath.Join(dir, "predefined_classes.txt")),
	}, opts...)
	return New(reg, ledger, opts...), rec
}

func TestClassOperations(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()

	if _, err := svc.AddClass(ctx, "cat", "", -1); err != nil {
		t.Fatal(err)
	}
	list, err := svc.AddClass(ctx, "dog", "", -1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"cat", "dog"}, list.Classes); diff != "" {
		t.Errorf("classes (-want +got):\n%s", diff)
	}

	if _, err := svc.AddClass(ctx, "cat", "", -1); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate add err = %v", err)
	}
	if _, err := svc.ReorderClasses(ctx, []string{"dog"}); !errors.Is(err, apperr.ErrClassMismatch) {
		t.Errorf("reorder err = %v", err)
	}
	if _, err := svc.ReorderClasses(ctx, []string{"dog", "cat"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RemoveClass(ctx, "cat"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RemoveClass(ctx, "cat"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("remove missing err = %v", err)
	}

	v := svc.ValidateClasses(ctx, []string{"dog", "owl"})
	if v.Equal || len(v.Missing) != 0 || len(v.Extra) != 1 {
		t.Errorf("validation = %+v", v)
	}

	updates := 0
	for _, e := range rec.types() {
		if e == sse.EventRegistryUpdated {
			updates++
		}
	}
	if updates != 4 {
		t.Errorf("registry.updated events = %d, want 4", updates)
	}
}

func TestAddClass_RollsBackOnSaveFailure(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, _ = svc.AddClass(ctx, "cat", "", -1)

	// Make the config dir read-only so the next save fails.
	dir := filepath.Dir(svc.registry.Path())
	if err := os.Chmod(dir, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}

	if _, err := svc.AddClass(ctx, "dog", "", -1); !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if diff := cmp.Diff([]string{"cat"}, svc.Classes(ctx).Classes); diff != "" {
		t.Errorf("failed add should be rolled back (-want +got):\n%s", diff)
	}
}

func TestSyncRoundTrip(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, _ = svc.AddClass(ctx, "cat", "", -1)
	_, _ = svc.AddClass(ctx, "dog", "", -1)

	res, err := svc.SyncToFile(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(res.Path)
	if string(data) != "cat\ndog\n" {
		t.Errorf("file = %q", data)
	}

	_ = os.WriteFile(res.Path, []byte("dog\ncat\n"), 0o644)
	from, err := svc.SyncFromFile(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if !from.Changed {
		t.Error("expected change")
	}
	if diff := cmp.Diff([]string{"dog", "cat"}, from.Classes.Classes); diff != "" {
		t.Errorf("classes (-want +got):\n%s", diff)
	}
}

func TestHistoryOperations(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()

	if _, err := svc.RecordSession(ctx, SessionInput{}); !errors.Is(err, apperr.ErrInvalidName) {
		t.Errorf("unnamed session err = %v", err)
	}
	id, err := svc.RecordSession(ctx, SessionInput{
		Name:       "manual",
		ImageFiles: []string{"datasets/a/img_unique_name.jpg"},
	})
	if err != nil || id == "" {
		t.Fatalf("RecordSession = %q, %v", id, err)
	}
	if !svc.IsTrained(ctx, "other/img_unique_name.jpg", false) {
		t.Error("smart match should find the recorded name")
	}
	got := svc.FilterUntrained(ctx, []string{"datasets/a/img_unique_name.jpg", "new_image_01.jpg"}, true)
	if diff := cmp.Diff([]string{"new_image_01.jpg"}, got); diff != "" {
		t.Errorf("filter (-want +got):\n%s", diff)
	}
	if st := svc.HistoryStats(ctx); st.TotalSessions != 1 || st.TotalTrainedImages != 1 {
		t.Errorf("stats = %+v", st)
	}
	if err := svc.ClearHistory(ctx); err != nil {
		t.Fatal(err)
	}
	if len(svc.Sessions(ctx)) != 0 {
		t.Error("sessions remain after clear")
	}
	if diff := cmp.Diff([]string{sse.EventHistoryUpdated, sse.EventHistoryUpdated}, rec.types()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestConvert_RecordsRunAndSession(t *testing.T) {
	db := testutil.TestCatalog(t)
	svc, rec := newService(t, WithCatalog(db))
	ctx := context.Background()
	src := testutil.ScenarioSource(t)

	req := ConvertRequest{Config: svc.ConvertConfig(src, t.TempDir()), RecordSession: true}
	req.TrainRatio = 0.667
	res, err := svc.Convert(ctx, req)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if res.Report.PairsConverted != 3 || res.SessionID == "" {
		t.Fatalf("result = %+v", res)
	}

	detail, err := svc.GetRun(ctx, res.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if detail.PairsConverted != 3 || len(detail.Items) != 3 {
		t.Errorf("run detail = %+v", detail)
	}
	for _, it := range detail.Items {
		if len(it.LabelChecksum) != 64 {
			t.Errorf("item %s checksum = %q", it.Stem, it.LabelChecksum)
		}
	}
	runs, err := svc.ListRuns(ctx, 10)
	if err != nil || len(runs) != 1 {
		t.Errorf("runs = %v, %v", runs, err)
	}

	// The recorded session excludes everything on the next run.
	req.ExcludeTrained = true
	req.StrictMode = true
	if _, err := svc.Convert(ctx, req); !errors.Is(err, apperr.ErrEmptyDataset) {
		t.Errorf("second run err = %v, want ErrEmptyDataset", err)
	}

	want := []string{
		sse.EventConvertStarted,
		sse.EventRegistryUpdated,
		sse.EventHistoryUpdated,
		sse.EventConvertCompleted,
		sse.EventConvertStarted,
		sse.EventConvertFailed,
	}
	if diff := cmp.Diff(want, rec.types()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if rec.progress != 3 {
		t.Errorf("progress events = %d, want 3", rec.progress)
	}
}

func TestConvert_CancelledSkipsSession(t *testing.T) {
	svc, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := ConvertRequest{Config: svc.ConvertConfig(testutil.ScenarioSource(t), t.TempDir()), RecordSession: true}
	res, err := svc.Convert(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Report.Cancelled || res.SessionID != "" {
		t.Errorf("result = %+v", res)
	}
	if len(svc.Sessions(context.Background())) != 0 {
		t.Error("cancelled run must not be recorded as a training session")
	}
}

func TestRuns_CatalogDisabled(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.ListRuns(context.Background(), 5); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
