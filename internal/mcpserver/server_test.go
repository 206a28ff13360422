package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/yoloprep/internal/history"
	"github.com/starford/yoloprep/internal/prepservice"
	"github.com/starford/yoloprep/internal/registry"
	"github.com/starford/yoloprep/internal/testutil"
)

func testServer(t *testing.T) (*Server, *prepservice.Service) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := registry.Open(filepath.Join(dir, "configs"), registry.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := history.Open(filepath.Join(dir, "configs", "training_history.json"),
		history.WithLogger(logger), history.WithBaseDir(dir))
	if err != nil {
		t.Fatal(err)
	}
	svc := prepservice.New(reg, ledger,
		prepservice.WithLogger(logger),
		prepservice.WithCatalog(testutil.TestCatalog(t)),
	)
	return New(svc, "test"), svc
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct call helper, so dispatch to the handlers.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_classes":
		result, err = srv.listClasses(ctx, req)
	case "add_class":
		result, err = srv.addClass(ctx, req)
	case "analyze_dataset":
		result, err = srv.analyzeDataset(ctx, req)
	case "history_stats":
		result, err = srv.historyStats(ctx, req)
	case "filter_untrained":
		result, err = srv.filterUntrained(ctx, req)
	case "convert_dataset":
		result, err = srv.convertDataset(ctx, req)
	case "list_runs":
		result, err = srv.listRuns(ctx, req)
	case "get_label_format":
		result, err = srv.getLabelFormat(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestAddAndListClasses(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "add_class", map[string]any{"name": "cat"})
	if r.IsError {
		t.Fatalf("add_class: %s", resultText(r))
	}
	r = callTool(t, srv, "add_class", map[string]any{"name": "cat"})
	if !r.IsError {
		t.Error("duplicate add should fail")
	}
	r = callTool(t, srv, "add_class", map[string]any{})
	if !r.IsError {
		t.Error("missing name should fail")
	}

	r = callTool(t, srv, "list_classes", map[string]any{})
	var list prepservice.ClassList
	if err := json.Unmarshal([]byte(resultText(r)), &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 1 || list.Classes[0] != "cat" {
		t.Errorf("list = %+v", list)
	}
}

func TestConvertDataset(t *testing.T) {
	srv, svc := testServer(t)
	src := testutil.ScenarioSource(t)

	r := callTool(t, srv, "convert_dataset", map[string]any{
		"source_dir":     src,
		"target_dir":     t.TempDir(),
		"train_ratio":    0.667,
		"record_session": true,
	})
	if r.IsError {
		t.Fatalf("convert_dataset: %s", resultText(r))
	}
	var res prepservice.ConvertResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.Report.PairsConverted != 3 || res.SessionID == "" {
		t.Errorf("result = %+v", res)
	}
	if st := svc.HistoryStats(context.Background()); st.TotalTrainedImages != 3 {
		t.Errorf("trained images = %d", st.TotalTrainedImages)
	}

	r = callTool(t, srv, "list_runs", map[string]any{"limit": float64(5)})
	if !strings.Contains(resultText(r), res.RunID) {
		t.Errorf("list_runs = %s", resultText(r))
	}

	r = callTool(t, srv, "convert_dataset", map[string]any{
		"source_dir":  src,
		"target_dir":  t.TempDir(),
		"train_ratio": 1.0,
	})
	if !r.IsError {
		t.Error("ratio 1 should fail")
	}
}

func TestFilterUntrained(t *testing.T) {
	srv, svc := testServer(t)
	_, err := svc.RecordSession(context.Background(), prepservice.SessionInput{
		Name:       "s",
		ImageFiles: []string{"data/img_000123.jpg"},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "filter_untrained", map[string]any{
		"paths": "data/img_000123.jpg\n\nmore/img_000999.jpg\n",
	})
	var got struct {
		Untrained []string `json:"untrained"`
		Excluded  int      `json:"excluded"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &got); err != nil {
		t.Fatal(err)
	}
	if got.Excluded != 1 || len(got.Untrained) != 1 || got.Untrained[0] != "more/img_000999.jpg" {
		t.Errorf("filter = %+v", got)
	}

	r = callTool(t, srv, "history_stats", map[string]any{})
	if !strings.Contains(resultText(r), `"total_sessions": 1`) {
		t.Errorf("history_stats = %s", resultText(r))
	}
}

func TestAnalyzeMissingDataset(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "analyze_dataset", map[string]any{"path": filepath.Join(t.TempDir(), "nope")})
	if !r.IsError {
		t.Error("expected error for missing dataset")
	}
}

func TestLabelFormat(t *testing.T) {
	srv, _ := testServer(t)
	text := resultText(callTool(t, srv, "get_label_format", map[string]any{}))
	if !strings.Contains(text, "<class_id> <x_center> <y_center> <width> <height>") {
		t.Error("contract missing label line format")
	}

	contents, err := srv.readLabelFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != labelFormatURI {
		t.Errorf("resource contents = %+v", contents[0])
	}
}
