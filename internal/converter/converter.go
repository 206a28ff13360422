// Package converter turns a tree of Pascal VOC annotated images into a
// YOLO-layout dataset with a deterministic train/val split.
package converter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/history"
	"github.com/starford/yoloprep/internal/imageinfo"
	"github.com/starford/yoloprep/internal/registry"
	"github.com/starford/yoloprep/internal/storage"
	"github.com/starford/yoloprep/internal/voc"
	"github.com/starford/yoloprep/internal/yolo"
)

// Converter runs conversions for one source/target pair. It is not safe for
// concurrent use, and the registry and ledger it holds must not be mutated
// by others while Convert runs.
type Converter struct {
	cfg      Config
	registry *registry.Registry
	history  *history.Ledger
	logger   *slog.Logger
	now      func() time.Time
}

// New validates cfg and returns a Converter. With UseClassConfig set and no
// injected registry, the registry under cfg.ClassConfigDir is opened.
func New(cfg Config, opts ...Option) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("converter: invalid config: %w", err)
	}
	c := &Converter{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.UseClassConfig && c.registry == nil {
		dir := c.cfg.ClassConfigDir
		if dir == "" {
			dir = DefaultClassConfigDir
		}
		reg, err := registry.Open(dir, registry.WithLogger(c.logger))
		if err != nil {
			return nil, err
		}
		c.registry = reg
	}
	return c, nil
}

// DatasetDir is <target>/<dataset_name>.
func (c *Converter) DatasetDir() string {
	return filepath.Join(c.cfg.TargetDir, c.cfg.DatasetName)
}

// classSet resolves class names to IDs during a run.
type classSet interface {
	Classes() []string
	ClassID(name string) (int, bool)
	AutoAdd(name string) (int, error)
}

// run carries the state of one Convert call.
type run struct {
	opts        RunOptions
	report      *Report
	classes     classSet
	annotations map[string]*voc.Annotation
	out         *storage.FS
	unknown     map[string]struct{}
}

// Convert executes the pipeline: discover pairs, optionally drop trained
// images, resolve classes, prepare the target, split, convert each pair and
// write the manifests. Per-item problems are recorded in the report; stage
// failures are returned as *apperr.Error values.
func (c *Converter) Convert(ctx context.Context, opts RunOptions) (*Report, error) {
	start := c.now()
	r := &run{
		opts:        opts,
		report:      &Report{DatasetDir: c.DatasetDir()},
		annotations: make(map[string]*voc.Annotation),
		unknown:     make(map[string]struct{}),
	}
	rep := r.report

	src, err := filepath.Abs(c.cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("converter: source dir: %w", err)
	}
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		if err == nil {
			err = errors.New("not a directory")
		}
		return nil, apperr.New(apperr.ErrNotFound, "discover", src, err)
	}
	datasetDir, err := filepath.Abs(c.DatasetDir())
	if err != nil {
		return nil, fmt.Errorf("converter: dataset dir: %w", err)
	}
	rep.DatasetDir = datasetDir

	c.logger.Info("converter: run started",
		slog.String("source", src),
		slog.String("dataset", datasetDir),
		slog.Float64("train_ratio", c.cfg.TrainRatio),
		slog.Int64("seed", c.cfg.Seed))

	// 1. Pair discovery.
	found, err := discover(src, c.skipDir(datasetDir))
	if err != nil {
		return nil, err
	}
	rep.UnmatchedImages = found.UnmatchedImages
	rep.UnmatchedXMLs = found.UnmatchedXMLs
	rep.Collisions = found.Collisions
	rep.PairsFound = len(found.Pairs)
	for _, col := range found.Collisions {
		c.logger.Warn("converter: stem collision, pair skipped", slog.String("path", col))
	}
	c.logger.Info("converter: pairs discovered",
		slog.Int("pairs", len(found.Pairs)),
		slog.Int("unmatched_images", len(found.UnmatchedImages)),
		slog.Int("unmatched_xmls", len(found.UnmatchedXMLs)))
	if len(found.Pairs) == 0 {
		return nil, apperr.New(apperr.ErrEmptyDataset, "discover", src, nil)
	}

	// 2. Optional exclusion.
	pairs := found.Pairs
	if opts.ExcludeTrained {
		if pairs, err = c.exclude(r, pairs); err != nil {
			return nil, err
		}
		if len(pairs) == 0 {
			return nil, apperr.New(apperr.ErrEmptyDataset, "exclude", src,
				errors.New("every discovered image is already trained"))
		}
	}

	// Partition preconditions are checked before anything is written.
	if !(c.cfg.TrainRatio > 0 && c.cfg.TrainRatio < 1) {
		return nil, apperr.New(apperr.ErrPartitionDegenerate, "partition", src,
			fmt.Errorf("train ratio %v is outside (0, 1)", c.cfg.TrainRatio))
	}
	if len(pairs) < 2 {
		return nil, apperr.New(apperr.ErrPartitionDegenerate, "partition", src,
			fmt.Errorf("need at least 2 pairs, have %d", len(pairs)))
	}

	// 3. Class acquisition.
	if err := c.acquireClasses(r, found.Pairs); err != nil {
		return nil, err
	}

	// 4. Target hygiene.
	if err := c.prepareTarget(r, datasetDir); err != nil {
		return nil, err
	}

	// 5. Partition.
	ordered, nTrain := partition(pairs, c.cfg.TrainRatio, c.cfg.Seed)
	c.logger.Info("converter: split",
		slog.Int("train", nTrain),
		slog.Int("val", len(ordered)-nTrain))

	// 6. Per-pair conversion.
	autoAdded := false
	total := len(ordered)
	for i, p := range ordered {
		if c.cancelled(ctx, opts) {
			rep.Cancelled = true
			c.logger.Warn("converter: run cancelled",
				slog.Int("converted", rep.PairsConverted),
				slog.Int("remaining", total-i))
			break
		}
		split := SplitTrain
		if i >= nTrain {
			split = SplitVal
		}
		added, err := c.convertPair(r, p, split)
		autoAdded = autoAdded || added
		if err != nil {
			if autoAdded {
				c.saveRegistryAfterFailure()
			}
			return nil, err
		}
		if opts.Progress != nil {
			opts.Progress(i+1, total, "converting "+p.Rel)
		}
	}
	rep.UnknownClasses = sortedKeys(r.unknown)
	rep.Classes = r.classes.Classes()

	// 7. Manifest emission.
	if !rep.Cancelled {
		if err := writeManifests(r.out, rep.Classes); err != nil {
			return nil, err
		}
	}

	// 8. Registry persist.
	if autoAdded && c.cfg.UseClassConfig {
		if err := c.registry.Save(); err != nil {
			return nil, err
		}
	}

	rep.Duration = c.now().Sub(start)
	rep.DurationSeconds = rep.Duration.Seconds()
	c.logger.Info("converter: run finished",
		slog.Int("converted", rep.PairsConverted),
		slog.Int("train", rep.TrainCount),
		slog.Int("val", rep.ValCount),
		slog.Int("boxes", rep.BoxesWritten),
		slog.Int("boxes_dropped", rep.BoxesDroppedDegenerate),
		slog.Bool("cancelled", rep.Cancelled),
		slog.Duration("duration", rep.Duration))
	return rep, nil
}

// skipDir excludes the dataset directory and its backups when the target
// lies inside the source tree.
func (c *Converter) skipDir(datasetDir string) func(string) bool {
	parent := filepath.Dir(datasetDir)
	prefix := filepath.Base(datasetDir) + backupInfix
	return func(dir string) bool {
		if dir == datasetDir {
			return true
		}
		return filepath.Dir(dir) == parent && strings.HasPrefix(filepath.Base(dir), prefix)
	}
}

func (c *Converter) cancelled(ctx context.Context, opts RunOptions) bool {
	if ctx.Err() != nil {
		return true
	}
	return opts.ShouldCancel != nil && opts.ShouldCancel()
}

func (c *Converter) exclude(r *run, pairs []pair) ([]pair, error) {
	if c.history == nil {
		return nil, fmt.Errorf("converter: exclude trained: no training history configured")
	}
	images := make([]string, len(pairs))
	for i, p := range pairs {
		images[i] = p.Image
	}
	keep := make(map[string]struct{}, len(pairs))
	for _, img := range c.history.FilterUntrained(images, r.opts.StrictMode) {
		keep[img] = struct{}{}
	}
	kept := make([]pair, 0, len(keep))
	for _, p := range pairs {
		if _, ok := keep[p.Image]; ok {
			kept = append(kept, p)
			continue
		}
		r.report.ExcludedTrained = append(r.report.ExcludedTrained, p.Rel)
	}
	c.logger.Info("converter: trained images excluded",
		slog.Int("before", len(pairs)),
		slog.Int("after", len(kept)),
		slog.Bool("strict", r.opts.StrictMode))
	return kept, nil
}

// acquireClasses picks the class set for the run. An empty registry is
// seeded from every discovered annotation in path order and persisted.
func (c *Converter) acquireClasses(r *run, all []pair) error {
	needSeed := !c.cfg.UseClassConfig || c.registry.Len() == 0
	var seen []string
	if needSeed {
		set := make(map[string]struct{})
		for _, p := range all {
			ann, err := r.annotation(p)
			if err != nil {
				return err
			}
			for _, n := range ann.ClassNames() {
				if _, ok := set[n]; !ok {
					set[n] = struct{}{}
					seen = append(seen, n)
				}
			}
		}
	}

	if !c.cfg.UseClassConfig {
		r.classes = newTransient(seen)
		c.logger.Info("converter: using transient class list", slog.Int("classes", len(seen)))
		return nil
	}
	r.classes = c.registry
	if needSeed {
		added := c.registry.Seed(seen, registry.SourceDataset)
		if err := c.registry.Save(); err != nil {
			return err
		}
		c.logger.Info("converter: registry seeded from annotations",
			slog.Int("classes", len(added)))
	}
	return nil
}

const backupInfix = "_backup_"

func (c *Converter) prepareTarget(r *run, datasetDir string) error {
	if r.opts.BackupExisting {
		if _, err := os.Stat(datasetDir); err == nil {
			dst := c.backupDir(datasetDir)
			if err := storage.CopyTree(dst, datasetDir); err != nil {
				return apperr.New(apperr.ErrPersistence, "backup", datasetDir, err)
			}
			r.report.BackupDir = dst
			c.logger.Info("converter: dataset backed up", slog.String("backup", dst))
		}
	}
	if r.opts.CleanExisting {
		for _, leaf := range leafDirs {
			if err := storage.RemoveContents(filepath.Join(datasetDir, leaf)); err != nil {
				return apperr.New(apperr.ErrPersistence, "clean", datasetDir, err)
			}
		}
		for _, f := range []string{yolo.ClassesFile, yolo.DescriptorFile} {
			if err := os.Remove(filepath.Join(datasetDir, f)); err != nil && !os.IsNotExist(err) {
				return apperr.New(apperr.ErrPersistence, "clean", datasetDir, err)
			}
		}
		c.logger.Info("converter: dataset cleaned", slog.String("dataset", datasetDir))
	}
	for _, leaf := range leafDirs {
		if err := os.MkdirAll(filepath.Join(datasetDir, leaf), 0o755); err != nil {
			return apperr.New(apperr.ErrPersistence, "prepare", datasetDir, err)
		}
	}
	out, err := storage.NewFS(datasetDir)
	if err != nil {
		return apperr.New(apperr.ErrPersistence, "prepare", datasetDir, err)
	}
	r.out = out
	return nil
}

var leafDirs = []string{yolo.TrainImagesDir, yolo.ValImagesDir, yolo.TrainLabelsDir, yolo.ValLabelsDir}

func (c *Converter) backupDir(datasetDir string) string {
	base := datasetDir + backupInfix + c.now().UTC().Format("20060102T150405Z")
	dst := base
	for n := 2; ; n++ {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			return dst
		}
		dst = fmt.Sprintf("%s_%d", base, n)
	}
}

// partition shuffles pairs with a PCG source seeded by seed and returns them
// with the number of leading train pairs. The train and val splits are
// never empty for len(pairs) >= 2.
func partition(pairs []pair, ratio float64, seed int64) ([]pair, int) {
	ordered := make([]pair, len(pairs))
	copy(ordered, pairs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Rel < ordered[j].Rel })

	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	rng.Shuffle(len(ordered), func(i, j int) { ordered[i], ordered[j] = ordered[j], ordered[i] })

	n := len(ordered)
	nTrain := int(math.Floor(ratio*float64(n) + 1e-9))
	nTrain = max(1, min(nTrain, n-1))
	return ordered, nTrain
}

// convertPair writes the label file and image copy for p. added reports
// whether a class was auto-added, even when an error is returned.
func (c *Converter) convertPair(r *run, p pair, split string) (added bool, err error) {
	rep := r.report
	ann, err := r.annotation(p)
	if err != nil {
		return false, err
	}

	width, height := ann.Size.Width, ann.Size.Height
	if !ann.Size.Valid() {
		dims, err := imageinfo.Probe(p.Image)
		if err != nil {
			rep.SkippedPairs = append(rep.SkippedPairs, Skipped{Path: p.Rel, Reason: SkipMissingDimensions})
			c.logger.Warn("converter: no image size, pair skipped",
				slog.String("path", p.Rel),
				slog.String("error", err.Error()))
			return false, nil
		}
		width, height = float64(dims.Width), float64(dims.Height)
	}

	labels := make([]yolo.Label, 0, len(ann.Objects))
	for _, obj := range ann.Objects {
		box, ok := yolo.Clamp(obj.Box, width, height)
		if !ok {
			rep.BoxesDroppedDegenerate++
			rep.DegenerateBoxes = append(rep.DegenerateBoxes, DegenerateBox{Path: p.Rel, Class: obj.Name, Box: obj.Box})
			c.logger.Warn("converter: degenerate box dropped",
				slog.String("path", p.Rel),
				slog.String("class", obj.Name))
			continue
		}
		id, ok := r.classes.ClassID(obj.Name)
		if !ok {
			if !c.cfg.AutoAddClasses {
				r.unknown[obj.Name] = struct{}{}
				c.logger.Warn("converter: unknown class skipped",
					slog.String("path", p.Rel),
					slog.String("class", obj.Name))
				continue
			}
			id, err = r.classes.AutoAdd(obj.Name)
			if err != nil {
				r.unknown[obj.Name] = struct{}{}
				c.logger.Warn("converter: class could not be added",
					slog.String("class", obj.Name),
					slog.String("error", err.Error()))
				continue
			}
			added = true
			rep.AutoAddedClasses = append(rep.AutoAddedClasses, obj.Name)
			c.logger.Info("converter: class auto-added",
				slog.String("class", obj.Name),
				slog.Int("id", id))
		}
		if l, ok := yolo.Normalize(id, box, width, height); ok {
			labels = append(labels, l)
		}
	}

	labelsDir, imagesDir := yolo.TrainLabelsDir, yolo.TrainImagesDir
	if split == SplitVal {
		labelsDir, imagesDir = yolo.ValLabelsDir, yolo.ValImagesDir
	}
	labelRel := filepath.Join(labelsDir, p.Stem+".txt")
	if err := r.out.Write(labelRel, yolo.FormatLabels(labels)); err != nil {
		return added, apperr.New(apperr.ErrPersistence, "write label", p.XML, err)
	}
	imageDst := filepath.Join(r.out.Root(), imagesDir, p.Stem+filepath.Ext(p.Image))
	if err := storage.CopyFile(imageDst, p.Image); err != nil {
		return added, apperr.New(apperr.ErrPersistence, "copy image", p.Image, err)
	}

	rep.PairsConverted++
	if split == SplitVal {
		rep.ValCount++
	} else {
		rep.TrainCount++
	}
	rep.BoxesWritten += len(labels)
	rep.Items = append(rep.Items, Item{
		Stem:      p.Stem,
		Split:     split,
		Image:     p.Image,
		LabelFile: filepath.Join(r.out.Root(), labelRel),
		Boxes:     len(labels),
	})
	c.logger.Debug("converter: pair converted",
		slog.String("path", p.Rel),
		slog.String("split", split),
		slog.Int("boxes", len(labels)))
	return added, nil
}

// saveRegistryAfterFailure keeps auto-added classes that labels already
// written depend on.
func (c *Converter) saveRegistryAfterFailure() {
	if !c.cfg.UseClassConfig {
		return
	}
	if err := c.registry.Save(); err != nil {
		c.logger.Error("converter: registry save after failed run",
			slog.String("error", err.Error()))
	}
}

func (r *run) annotation(p pair) (*voc.Annotation, error) {
	if ann, ok := r.annotations[p.XML]; ok {
		return ann, nil
	}
	ann, err := voc.ParseFile(p.XML)
	if err != nil {
		return nil, err
	}
	r.annotations[p.XML] = ann
	return ann, nil
}

func writeManifests(out *storage.FS, classes []string) error {
	if err := out.Write(yolo.ClassesFile, yolo.FormatClasses(classes)); err != nil {
		return apperr.New(apperr.ErrPersistence, "manifest", filepath.Join(out.Root(), yolo.ClassesFile), err)
	}
	data, err := yolo.NewDescriptor(classes).Marshal()
	if err != nil {
		return fmt.Errorf("converter: encode descriptor: %w", err)
	}
	if err := out.Write(yolo.DescriptorFile, data); err != nil {
		return apperr.New(apperr.ErrPersistence, "manifest", filepath.Join(out.Root(), yolo.DescriptorFile), err)
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// transient is the class list used when the registry is bypassed.
type transient struct {
	names []string
	ids   map[string]int
}

func newTransient(names []string) *transient {
	t := &transient{ids: make(map[string]int, len(names))}
	for _, n := range names {
		_, _ = t.AutoAdd(n)
	}
	return t
}

func (t *transient) Classes() []string {
	return append([]string(nil), t.names...)
}

func (t *transient) ClassID(name string) (int, bool) {
	id, ok := t.ids[strings.TrimSpace(name)]
	return id, ok
}

func (t *transient) AutoAdd(name string) (int, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return -1, fmt.Errorf("converter: add class: %w", apperr.ErrInvalidName)
	}
	if id, ok := t.ids[n]; ok {
		return id, nil
	}
	t.ids[n] = len(t.names)
	t.names = append(t.names, n)
	return t.ids[n], nil
}
