package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/yoloprep/internal/apperr"
	"github.com/starford/yoloprep/internal/yolo"
)

// Finding kinds reported by AnalyzeDataset.
const (
	FindingNoDescriptor      = "no_descriptor"
	FindingNoClassesFile     = "no_classes_file"
	FindingDescriptorNC      = "descriptor_nc_mismatch"
	FindingClassesDisagree   = "descriptor_classes_mismatch"
	FindingIDOutOfRange      = "label_id_out_of_range"
	FindingMalformedLabel    = "malformed_label"
	FindingRegistryMismatch  = "registry_mismatch"
	FindingIDMeaningChanged  = "id_meaning_changed"
	FindingUnknownToRegistry = "id_unknown_to_registry"
)

const (
	descriptorFallbackName = "dataset.yaml"
	labelsSubdir           = "labels"
)

// Finding is one inconsistency detected in a dataset.
type Finding struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// IDUsage describes how often a class ID is referenced by label files and
// which name each source assigns to it.
type IDUsage struct {
	ID             int    `json:"id"`
	Count          int    `json:"count"`
	RegistryName   string `json:"registry_name,omitempty"`
	DescriptorName string `json:"descriptor_name,omitempty"`
	ClassesName    string `json:"classes_file_name,omitempty"`
}

// DatasetReport is the result of AnalyzeDataset.
type DatasetReport struct {
	Path             string    `json:"path"`
	DescriptorPath   string    `json:"descriptor_path,omitempty"`
	DescriptorNames  []string  `json:"descriptor_names,omitempty"`
	DescriptorNC     int       `json:"descriptor_nc"`
	ClassesFileNames []string  `json:"classes_file_names,omitempty"`
	LabelFiles       int       `json:"label_files"`
	Annotations      int       `json:"annotations"`
	UsedIDs          []IDUsage `json:"used_ids"`
	OutOfRangeIDs    []int     `json:"out_of_range_ids,omitempty"`
	Findings         []Finding `json:"findings"`
	Recommendations  []string  `json:"recommendations"`
}

// Consistent reports whether no findings were recorded.
func (d *DatasetReport) Consistent() bool {
	return len(d.Findings) == 0
}

func (d *DatasetReport) add(kind, format string, args ...any) {
	d.Findings = append(d.Findings, Finding{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

func (d *DatasetReport) recommend(s string) {
	for _, have := range d.Recommendations {
		if have == s {
			return
		}
	}
	d.Recommendations = append(d.Recommendations, s)
}

// AnalyzeDataset inspects a YOLO-layout directory for class inconsistencies
// between its descriptor, its classes.txt, its label files and the registry.
// It never modifies anything.
func (r *Registry) AnalyzeDataset(path string) (*DatasetReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("registry: analyze %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("registry: analyze %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("registry: analyze %s: not a directory", path)
	}

	rep := &DatasetReport{Path: path, UsedIDs: []IDUsage{}, Findings: []Finding{}, Recommendations: []string{}}

	var descriptor *yolo.Descriptor
	for _, name := range []string{yolo.DescriptorFile, descriptorFallbackName} {
		p := filepath.Join(path, name)
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		d, err := yolo.ParseDescriptor(data)
		if err != nil {
			return nil, apperr.New(apperr.ErrMalformedAnnotation, "analyze", p, err)
		}
		descriptor = d
		rep.DescriptorPath = p
		rep.DescriptorNames = []string(d.Names)
		rep.DescriptorNC = d.NC
		break
	}
	if descriptor == nil {
		rep.add(FindingNoDescriptor, "no %s found", yolo.DescriptorFile)
		rep.recommend("Write a data.yaml from the registry so training uses the canonical order.")
	} else if descriptor.NC != len(descriptor.Names) {
		rep.add(FindingDescriptorNC, "descriptor nc=%d but lists %d names", descriptor.NC, len(descriptor.Names))
		rep.recommend("Regenerate data.yaml so nc equals the number of names.")
	}

	if data, err := os.ReadFile(filepath.Join(path, yolo.ClassesFile)); err == nil {
		rep.ClassesFileNames = yolo.ParseClasses(data)
	} else {
		rep.add(FindingNoClassesFile, "no %s found", yolo.ClassesFile)
	}

	if descriptor != nil && rep.ClassesFileNames != nil && !sameList(rep.DescriptorNames, rep.ClassesFileNames) {
		rep.add(FindingClassesDisagree, "data.yaml names %v differ from classes.txt %v", rep.DescriptorNames, rep.ClassesFileNames)
		rep.recommend("Regenerate classes.txt and data.yaml from the registry.")
	}

	// The descriptor is what training reads; fall back to classes.txt, then the registry.
	datasetNames := rep.DescriptorNames
	nc := rep.DescriptorNC
	if descriptor == nil {
		datasetNames = rep.ClassesFileNames
		nc = len(rep.ClassesFileNames)
		if rep.ClassesFileNames == nil {
			nc = len(r.doc.Classes)
		}
	}

	counts, err := r.scanLabels(path, rep)
	if err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		u := IDUsage{ID: id, Count: counts[id]}
		if id >= 0 && id < len(r.doc.Classes) {
			u.RegistryName = r.doc.Classes[id]
		}
		if id >= 0 && id < len(rep.DescriptorNames) {
			u.DescriptorName = rep.DescriptorNames[id]
		}
		if id >= 0 && id < len(rep.ClassesFileNames) {
			u.ClassesName = rep.ClassesFileNames[id]
		}
		rep.UsedIDs = append(rep.UsedIDs, u)

		if id < 0 || id >= nc {
			rep.OutOfRangeIDs = append(rep.OutOfRangeIDs, id)
			rep.add(FindingIDOutOfRange, "label id %d used %d times is outside [0, %d)", id, u.Count, nc)
			rep.recommend("Relabel or drop annotations whose class id exceeds the class count.")
		}
		written := u.DescriptorName
		if written == "" {
			written = u.ClassesName
		}
		switch {
		case written != "" && u.RegistryName == "":
			rep.add(FindingUnknownToRegistry, "label id %d (%q) has no class in the registry", id, written)
		case written != "" && u.RegistryName != "" && r.key(written) != r.key(u.RegistryName):
			rep.add(FindingIDMeaningChanged, "label id %d was written as %q but the registry now maps it to %q", id, written, u.RegistryName)
			rep.recommend("Reconvert the dataset; existing label files use an older class order.")
		}
	}

	if datasetNames != nil {
		if equal, missing, extra := r.Validate(datasetNames); !equal {
			rep.add(FindingRegistryMismatch, "dataset classes differ from registry (missing %v, extra %v)", missing, extra)
			rep.recommend("Sync the registry or regenerate the dataset manifests.")
		}
	}
	return rep, nil
}

// scanLabels collects class ID reference counts from every label file.
func (r *Registry) scanLabels(path string, rep *DatasetReport) (map[int]int, error) {
	root := filepath.Join(path, labelsSubdir)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		root = path
	}
	counts := make(map[int]int)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(p), ".txt") || d.Name() == yolo.ClassesFile {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rep.LabelFiles++
		labels, err := yolo.ParseLabels(data)
		if err != nil {
			rel, _ := filepath.Rel(path, p)
			rep.add(FindingMalformedLabel, "%s: %v", rel, err)
			return nil
		}
		for _, l := range labels {
			counts[l.ClassID]++
			rep.Annotations++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("registry: scan labels: %w", err)
	}
	return counts, nil
}

func sameList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
