// Package prepservice coordinates the class registry, the training history,
// the converter and the run catalog for the API, MCP and CLI surfaces.
package prepservice

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/catalog"
	"github.com/starford/yoloprep/internal/converter"
	"github.com/starford/yoloprep/internal/history"
	"github.com/starford/yoloprep/internal/registry"
	"github.com/starford/yoloprep/internal/sse"
)

// Publisher receives change and progress notifications.
type Publisher interface {
	Publish(event sse.Event)
	PublishProgress(runID string, current, total int, message string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(sse.Event)                        {}
func (nopPublisher) PublishProgress(string, int, int, string) {}

// Option configures a Service.
type Option func(*Service)

// WithCatalog records every run in store.
func WithCatalog(store catalog.RunStore) Option {
	return func(s *Service) {
		s.catalog = store
	}
}

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithPredefinedFile sets the default plain-text class list used by the
// sync operations.
func WithPredefinedFile(path string) Option {
	return func(s *Service) {
		s.predefined = path
	}
}

// WithConvertDefaults sets the base configuration for conversion requests.
func WithConvertDefaults(cfg converter.Config) Option {
	return func(s *Service) {
		s.defaults = cfg
	}
}

// Service serializes access to the registry and the ledger, which are not
// safe for concurrent use. A conversion holds the lock for its whole run.
type Service struct {
	mu         sync.Mutex
	registry   *registry.Registry
	history    *history.Ledger
	catalog    catalog.RunStore
	publisher  Publisher
	logger     *slog.Logger
	predefined string
	defaults   converter.Config
}

// New creates a service over reg and ledger.
func New(reg *registry.Registry, ledger *history.Ledger, opts ...Option) *Service {
	s := &Service{
		registry:  reg,
		history:   ledger,
		publisher: nopPublisher{},
		logger:    slog.Default(),
		defaults:  converter.DefaultConfig("", ""),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.predefined == "" {
		s.predefined = registry.DefaultPredefinedFile()
	}
	return s
}

// ClassList is the registry view returned by class operations.
type ClassList struct {
	Classes  []string          `json:"classes"`
	Count    int               `json:"count"`
	Settings registry.Settings `json:"settings"`
}

func (s *Service) classList() *ClassList {
	return &ClassList{
		Classes:  s.registry.Classes(),
		Count:    s.registry.Len(),
		Settings: s.registry.Settings(),
	}
}

func (s *Service) registryUpdated(reason string) {
	s.publisher.Publish(sse.Event{Type: sse.EventRegistryUpdated, Data: map[string]any{
		"reason":  reason,
		"classes": s.registry.Classes(),
	}})
}

// Classes returns the ordered class list.
func (s *Service) Classes(_ context.Context) *ClassList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.classList()
}

// AddClass adds name and persists the registry. On save failure the add is
// rolled back.
func (s *Service) AddClass(_ context.Context, name, description string, position int) (*ClassList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.registry.Document()
	if err := s.registry.AddClass(name, description, position); err != nil {
		return nil, err
	}
	if err := s.save(before); err != nil {
		return nil, err
	}
	s.registryUpdated("add")
	return s.classList(), nil
}

// RemoveClass removes name and persists the registry.
func (s *Service) RemoveClass(_ context.Context, name string) (*ClassList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.registry.Document()
	if err := s.registry.RemoveClass(name); err != nil {
		return nil, err
	}
	if err := s.save(before); err != nil {
		return nil, err
	}
	s.registryUpdated("remove")
	return s.classList(), nil
}

// ReorderClasses replaces the class order and persists the registry.
func (s *Service) ReorderClasses(_ context.Context, order []string) (*ClassList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.registry.Document()
	if err := s.registry.ReorderClasses(order); err != nil {
		return nil, err
	}
	if err := s.save(before); err != nil {
		return nil, err
	}
	s.registryUpdated("reorder")
	return s.classList(), nil
}

// save persists the registry, restoring before when the write fails.
func (s *Service) save(before registry.Document) error {
	if err := s.registry.Save(); err != nil {
		if rerr := s.registry.Restore(before); rerr != nil {
			s.logger.Error("prepservice: registry rollback failed", slog.String("error", rerr.Error()))
		}
		return err
	}
	return nil
}

// Validation is the result of comparing a candidate list with the registry.
type Validation struct {
	Equal   bool     `json:"equal"`
	Missing []string `json:"missing"`
	Extra   []string `json:"extra"`
}

// ValidateClasses compares candidate against the registry order.
func (s *Service) ValidateClasses(_ context.Context, candidate []string) *Validation {
	s.mu.Lock()
	defer s.mu.Unlock()
	eq, missing, extra := s.registry.Validate(candidate)
	return &Validation{Equal: eq, Missing: nonNil(missing), Extra: nonNil(extra)}
}

// SyncResult reports a sync with the plain-text class list.
type SyncResult struct {
	Path    string     `json:"path"`
	Changed bool       `json:"changed"`
	Classes *ClassList `json:"classes"`
}

// SyncFromFile replaces the registry order with the plain-text list at path
// (the configured default when empty).
func (s *Service) SyncFromFile(_ context.Context, path string) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "" {
		path = s.predefined
	}
	if path == "" {
		return nil, fmt.Errorf("prepservice: sync: %w: no predefined classes file", apperr.ErrNotFound)
	}
	changed, err := s.registry.SyncFromFile(path)
	if err != nil {
		return nil, err
	}
	if changed {
		s.registryUpdated("sync")
	}
	return &SyncResult{Path: path, Changed: changed, Classes: s.classList()}, nil
}

// SyncToFile writes the registry order to the plain-text list at path (the
// configured default when empty).
func (s *Service) SyncToFile(_ context.Context, path string) (*SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if path == "" {
		path = s.predefined
	}
	if path == "" {
		return nil, fmt.Errorf("prepservice: sync: %w: no predefined classes file", apperr.ErrNotFound)
	}
	if err := s.registry.SyncToFile(path); err != nil {
		return nil, err
	}
	return &SyncResult{Path: path, Changed: true, Classes: s.classList()}, nil
}

// AnalyzeDataset inspects an existing YOLO dataset against the registry.
func (s *Service) AnalyzeDataset(_ context.Context, path string) (*registry.DatasetReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.AnalyzeDataset(path)
}

// HistoryStats summarizes the training history.
func (s *Service) HistoryStats(_ context.Context) history.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Stats()
}

// Sessions returns every recorded training session.
func (s *Service) Sessions(_ context.Context) []history.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Sessions()
}

// SessionInput describes a training session to record.
type SessionInput struct {
	Name           string         `json:"session_name"`
	DatasetPath    string         `json:"dataset_path"`
	ImageFiles     []string       `json:"image_files"`
	ModelPath      string         `json:"model_path"`
	TrainingConfig map[string]any `json:"training_config"`
}

// RecordSession appends a training session and returns its ID.
func (s *Service) RecordSession(_ context.Context, in SessionInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordSession(in)
}

func (s *Service) recordSession(in SessionInput) (string, error) {
	if in.Name == "" {
		return "", fmt.Errorf("prepservice: session name: %w", apperr.ErrInvalidName)
	}
	id, err := s.history.AddSession(in.Name, in.DatasetPath, in.ImageFiles, in.ModelPath, in.TrainingConfig)
	if err != nil {
		return "", err
	}
	s.publisher.Publish(sse.Event{Type: sse.EventHistoryUpdated, Data: map[string]any{
		"session_id": id,
		"images":     len(in.ImageFiles),
	}})
	return id, nil
}

// FilterUntrained returns the paths not used by any recorded session.
func (s *Service) FilterUntrained(_ context.Context, paths []string, strict bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.FilterUntrained(paths, strict)
}

// IsTrained reports whether path was used by a recorded session.
func (s *Service) IsTrained(_ context.Context, path string, strict bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.IsTrained(path, strict)
}

// ClearHistory empties the training history.
func (s *Service) ClearHistory(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.history.Clear(); err != nil {
		return err
	}
	s.publisher.Publish(sse.Event{Type: sse.EventHistoryUpdated, Data: map[string]any{"cleared": true}})
	return nil
}

// ListRuns returns recent conversion runs from the catalog.
func (s *Service) ListRuns(_ context.Context, limit int) ([]catalog.Run, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}
	runs, err := s.catalog.ListRuns(limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []catalog.Run{}
	}
	return runs, nil
}

// RunDetail is a catalog run with its items.
type RunDetail struct {
	catalog.Run
	Items []catalog.Item `json:"items"`
}

// GetRun returns one run and its items.
func (s *Service) GetRun(_ context.Context, id string) (*RunDetail, error) {
	if s.catalog == nil {
		return nil, errCatalogDisabled
	}
	run, err := s.catalog.GetRun(id)
	if err != nil {
		return nil, err
	}
	items, err := s.catalog.RunItems(id)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []catalog.Item{}
	}
	return &RunDetail{Run: *run, Items: items}, nil
}

var errCatalogDisabled = fmt.Errorf("prepservice: %w: run catalog is disabled", apperr.ErrNotFound)

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
