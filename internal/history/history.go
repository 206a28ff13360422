// Package history keeps the append-only ledger of which images took part in
// each training run, and answers whether a candidate image was already used.
package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/storage"
)

// SchemaVersion is written to every history document.
const SchemaVersion = "1.0"

// StatusCompleted is the only session status recorded.
const StatusCompleted = "completed"

// Session is one training run. Sessions are immutable once appended.
type Session struct {
	ID             string         `json:"session_id"`
	Name           string         `json:"session_name"`
	Timestamp      string         `json:"timestamp"`
	DatasetPath    string         `json:"dataset_path"`
	ImageCount     int            `json:"image_count"`
	ImageFiles     []string       `json:"image_files"`
	ModelPath      *string        `json:"model_path"`
	TrainingConfig map[string]any `json:"training_config"`
	Status         string         `json:"status"`
}

// Document is the persisted ledger.
type Document struct {
	Version          string    `json:"version"`
	CreatedAt        string    `json:"created_at"`
	TrainingSessions []Session `json:"training_sessions"`
}

// Stats summarizes the ledger.
type Stats struct {
	TotalSessions      int    `json:"total_sessions"`
	TotalTrainedImages int    `json:"total_trained_images"`
	LastTraining       string `json:"last_training_timestamp,omitempty"`
	HistoryFile        string `json:"history_file_path"`
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Ledger) {
		h.logger = l
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Ledger) {
		h.now = now
	}
}

// WithBaseDir sets the repository root that recorded and queried image
// paths are made relative to. Defaults to the working directory.
func WithBaseDir(dir string) Option {
	return func(h *Ledger) {
		h.baseDir = dir
	}
}

// WithStore replaces the file store rooted at the ledger's directory.
func WithStore(s storage.Store) Option {
	return func(h *Ledger) {
		h.store = s
	}
}

// Ledger is the training history. It is not safe for concurrent use.
type Ledger struct {
	path    string
	store   storage.Store
	baseDir string
	doc     Document
	logger  *slog.Logger
	now     func() time.Time

	// Derived lookup tables over every completed session.
	trained map[string]struct{}
	byName  map[string]struct{}
}

// New creates a ledger for path without reading it. Call Load before use.
func New(path string, opts ...Option) (*Ledger, error) {
	h := &Ledger{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("history: working directory: %w", err)
		}
		h.baseDir = wd
	}
	if abs, err := filepath.Abs(h.baseDir); err == nil {
		h.baseDir = abs
	}
	if h.store == nil {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.New(apperr.ErrPersistence, "history", path, err)
		}
		fs, err := storage.NewFS(dir)
		if err != nil {
			return nil, apperr.New(apperr.ErrPersistence, "history", path, err)
		}
		h.store = fs
	}
	h.doc = h.emptyDocument()
	h.reindex()
	return h, nil
}

// Open creates a ledger for path and loads it.
func Open(path string, opts ...Option) (*Ledger, error) {
	h, err := New(path, opts...)
	if err != nil {
		return nil, err
	}
	if err := h.Load(); err != nil {
		return nil, err
	}
	return h, nil
}

// Path returns the history file path.
func (h *Ledger) Path() string {
	return h.path
}

// BaseDir returns the directory paths are normalized against.
func (h *Ledger) BaseDir() string {
	return h.baseDir
}

func (h *Ledger) file() string {
	return filepath.Base(h.path)
}

func (h *Ledger) emptyDocument() Document {
	return Document{
		Version:          SchemaVersion,
		CreatedAt:        h.now().UTC().Format(time.RFC3339),
		TrainingSessions: []Session{},
	}
}

// Load reads the history file. A missing file yields an empty ledger (not
// persisted until the first append). A malformed file fails with
// ErrHistoryCorrupt and is never overwritten by Load.
func (h *Ledger) Load() error {
	if !h.store.Exists(h.file()) {
		h.doc = h.emptyDocument()
		h.reindex()
		return nil
	}
	data, err := h.store.Read(h.file())
	if err != nil {
		return apperr.New(apperr.ErrPersistence, "history load", h.path, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return apperr.New(apperr.ErrHistoryCorrupt, "history load", h.path, err)
	}
	if doc.Version == "" {
		return apperr.New(apperr.ErrHistoryCorrupt, "history load", h.path, fmt.Errorf("missing version"))
	}
	if doc.TrainingSessions == nil {
		doc.TrainingSessions = []Session{}
	}
	h.doc = doc
	h.reindex()
	h.logger.Debug("history: loaded",
		slog.String("path", h.path),
		slog.Int("sessions", len(doc.TrainingSessions)))
	return nil
}

func (h *Ledger) persist(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.New(apperr.ErrPersistence, "history save", h.path, err)
	}
	data = append(data, '\n')
	if err := h.store.Write(h.file(), data); err != nil {
		return apperr.New(apperr.ErrPersistence, "history save", h.path, err)
	}
	return nil
}

// AddSession appends a completed session and persists the ledger. Image paths
// are normalized relative to the base directory where possible. On
// persistence failure the ledger is left as it was and an error is returned.
func (h *Ledger) AddSession(name, datasetPath string, imageFiles []string, modelPath string, config map[string]any) (string, error) {
	now := h.now()
	id := h.nextID(now)

	files := make([]string, 0, len(imageFiles))
	for _, f := range imageFiles {
		files = append(files, h.Normalize(f))
	}
	var model *string
	if modelPath != "" {
		model = &modelPath
	}
	if config == nil {
		config = map[string]any{}
	}
	s := Session{
		ID:             id,
		Name:           name,
		Timestamp:      now.UTC().Format(time.RFC3339),
		DatasetPath:    datasetPath,
		ImageCount:     len(files),
		ImageFiles:     files,
		ModelPath:      model,
		TrainingConfig: config,
		Status:         StatusCompleted,
	}

	next := h.doc
	next.TrainingSessions = append(append([]Session{}, h.doc.TrainingSessions...), s)
	if err := h.persist(next); err != nil {
		return "", err
	}
	h.doc = next
	h.index(s)

	h.logger.Info("history: session recorded",
		slog.String("session_id", id),
		slog.String("name", name),
		slog.Int("images", len(files)))
	return id, nil
}

func (h *Ledger) nextID(now time.Time) string {
	base := "session_" + now.Format("20060102_150405")
	taken := make(map[string]struct{}, len(h.doc.TrainingSessions))
	for _, s := range h.doc.TrainingSessions {
		taken[s.ID] = struct{}{}
	}
	id := base
	for n := 2; ; n++ {
		if _, dup := taken[id]; !dup {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// Sessions returns a copy of the recorded sessions in append order.
func (h *Ledger) Sessions() []Session {
	out := make([]Session, len(h.doc.TrainingSessions))
	copy(out, h.doc.TrainingSessions)
	return out
}

// TrainedImages returns the union of image paths across completed sessions.
func (h *Ledger) TrainedImages() map[string]struct{} {
	out := make(map[string]struct{}, len(h.trained))
	for p := range h.trained {
		out[p] = struct{}{}
	}
	return out
}

// Stats summarizes the ledger.
func (h *Ledger) Stats() Stats {
	st := Stats{
		TotalSessions:      len(h.doc.TrainingSessions),
		TotalTrainedImages: len(h.trained),
		HistoryFile:        h.path,
	}
	var stamps []string
	for _, s := range h.doc.TrainingSessions {
		stamps = append(stamps, s.Timestamp)
	}
	if len(stamps) > 0 {
		sort.Strings(stamps)
		st.LastTraining = stamps[len(stamps)-1]
	}
	return st
}

// Clear replaces the ledger with an empty document and persists it. This is
// the only way sessions are ever removed.
func (h *Ledger) Clear() error {
	next := h.emptyDocument()
	if err := h.persist(next); err != nil {
		return err
	}
	h.logger.Warn("history: cleared",
		slog.String("path", h.path),
		slog.Int("sessions_removed", len(h.doc.TrainingSessions)))
	h.doc = next
	h.reindex()
	return nil
}

func (h *Ledger) reindex() {
	h.trained = make(map[string]struct{})
	h.byName = make(map[string]struct{})
	for _, s := range h.doc.TrainingSessions {
		h.index(s)
	}
}

func (h *Ledger) index(s Session) {
	if s.Status != StatusCompleted {
		return
	}
	for _, f := range s.ImageFiles {
		n := h.Normalize(f)
		h.trained[n] = struct{}{}
		h.byName[filepath.Base(filepath.FromSlash(n))] = struct{}{}
	}
}
