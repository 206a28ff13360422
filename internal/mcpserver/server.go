// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes yoloprep tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/yoloprep/internal/prepservice"
)

const labelFormatURI = "yoloprep://label-format"

// Server wraps the MCP server with yoloprep tools.
type Server struct {
	mcp *server.MCPServer
	svc *prepservice.Service
}

// New creates a new MCP server with all yoloprep tools registered.
func New(svc *prepservice.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"yoloprep",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_classes",
		mcp.WithDescription("List the registered classes. The position of a name is its YOLO class ID."),
	), s.listClasses)

	s.mcp.AddTool(mcp.NewTool("add_class",
		mcp.WithDescription("Append a class to the registry. The new class gets the next free ID."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Class name")),
		mcp.WithString("description", mcp.Description("Optional description")),
	), s.addClass)

	s.mcp.AddTool(mcp.NewTool("analyze_dataset",
		mcp.WithDescription("Check an existing YOLO dataset for class ID inconsistencies against the registry."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Dataset directory containing data.yaml")),
	), s.analyzeDataset)

	s.mcp.AddTool(mcp.NewTool("history_stats",
		mcp.WithDescription("Summarize recorded training sessions."),
	), s.historyStats)

	s.mcp.AddTool(mcp.NewTool("filter_untrained",
		mcp.WithDescription("Return the image paths that no recorded training session has used."),
		mcp.WithString("paths", mcp.Required(), mcp.Description("Image paths, one per line")),
		mcp.WithBoolean("strict", mcp.Description("Match exact paths only, without the filename fallback")),
	), s.filterUntrained)

	s.mcp.AddTool(mcp.NewTool("convert_dataset",
		mcp.WithDescription("Convert a directory of Pascal VOC annotated images into a YOLO dataset. "+
			"Read the dataset contract via get_label_format or the "+labelFormatURI+" resource."),
		mcp.WithString("source_dir", mcp.Required(), mcp.Description("Directory with images and VOC XML files")),
		mcp.WithString("target_dir", mcp.Required(), mcp.Description("Directory that receives the dataset")),
		mcp.WithString("dataset_name", mcp.Description("Dataset directory name")),
		mcp.WithNumber("train_ratio", mcp.Description("Fraction of pairs in the train split, in (0, 1)")),
		mcp.WithNumber("seed", mcp.Description("Shuffle seed")),
		mcp.WithBoolean("exclude_trained", mcp.Description("Skip images used by recorded training sessions")),
		mcp.WithBoolean("strict_mode", mcp.Description("Exact path matching for exclude_trained")),
		mcp.WithBoolean("clean_existing", mcp.Description("Empty an existing dataset before writing")),
		mcp.WithBoolean("backup_existing", mcp.Description("Copy an existing dataset aside before writing")),
		mcp.WithBoolean("record_session", mcp.Description("Record the converted images as a training session")),
	), s.convertDataset)

	s.mcp.AddTool(mcp.NewTool("list_runs",
		mcp.WithDescription("List recent conversion runs from the run catalog."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs")),
	), s.listRuns)

	s.mcp.AddTool(mcp.NewTool("get_label_format",
		mcp.WithDescription("Returns the dataset layout and YOLO label format contract."),
	), s.getLabelFormat)

	s.mcp.AddResource(
		mcp.NewResource(labelFormatURI, "Dataset Contract",
			mcp.WithResourceDescription("Dataset layout and YOLO label format produced by convert_dataset."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLabelFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listClasses(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Classes(ctx))
}

func (s *Server) addClass(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.svc.AddClass(ctx, name, req.GetString("description", ""), -1)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(list)
}

func (s *Server) analyzeDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rep, err := s.svc.AnalyzeDataset(ctx, path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}

func (s *Server) historyStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.HistoryStats(ctx))
}

func (s *Server) filterUntrained(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("paths")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var paths []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	untrained := s.svc.FilterUntrained(ctx, paths, req.GetBool("strict", false))
	if untrained == nil {
		untrained = []string{}
	}
	return jsonResult(map[string]any{
		"untrained": untrained,
		"excluded":  len(paths) - len(untrained),
	})
}

func (s *Server) convertDataset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, err := req.RequireString("source_dir")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target, err := req.RequireString("target_dir")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cr := prepservice.ConvertRequest{Config: s.svc.ConvertConfig(source, target)}
	cr.DatasetName = req.GetString("dataset_name", cr.DatasetName)
	cr.TrainRatio = req.GetFloat("train_ratio", cr.TrainRatio)
	cr.Seed = int64(req.GetFloat("seed", float64(cr.Seed)))
	cr.ExcludeTrained = req.GetBool("exclude_trained", false)
	cr.StrictMode = req.GetBool("strict_mode", false)
	cr.CleanExisting = req.GetBool("clean_existing", false)
	cr.BackupExisting = req.GetBool("backup_existing", false)
	cr.RecordSession = req.GetBool("record_session", false)

	res, err := s.svc.Convert(ctx, cr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) listRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runs, err := s.svc.ListRuns(ctx, int(req.GetFloat("limit", 20)))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(runs)
}

func (s *Server) getLabelFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(LabelFormatContract), nil
}

func (s *Server) readLabelFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      labelFormatURI,
			MIMEType: "text/markdown",
			Text:     LabelFormatContract,
		},
	}, nil
}
