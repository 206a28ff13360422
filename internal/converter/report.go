package converter

import (
	"time"

	"github.com/starford/yoloprep/internal/voc"
)

// Split names.
const (
	SplitTrain = "train"
	SplitVal   = "val"
)

// Skip reasons recorded in Report.SkippedPairs.
const (
	SkipMissingDimensions = "missing_dimensions"
)

// Skipped is a pair that produced no output.
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// DegenerateBox is a box dropped because it had no area after clamping.
type DegenerateBox struct {
	Path  string  `json:"path"`
	Class string  `json:"class"`
	Box   voc.Box `json:"box"`
}

// Item is one converted pair.
type Item struct {
	Stem      string `json:"stem"`
	Split     string `json:"split"`
	Image     string `json:"image"`      // source image path
	LabelFile string `json:"label_file"` // emitted label path
	Boxes     int    `json:"boxes"`
}

// Report is the durable summary of a run. Soft errors land here; hard
// errors are returned by Convert instead.
type Report struct {
	DatasetDir string `json:"dataset_dir"`
	BackupDir  string `json:"backup_dir,omitempty"`

	PairsFound             int             `json:"pairs_found"`
	PairsConverted         int             `json:"pairs_converted"`
	TrainCount             int             `json:"train_count"`
	ValCount               int             `json:"val_count"`
	BoxesWritten           int             `json:"boxes_written"`
	BoxesDroppedDegenerate int             `json:"boxes_dropped_degenerate"`
	DegenerateBoxes        []DegenerateBox `json:"degenerate_boxes"`
	UnknownClasses         []string        `json:"unknown_classes"`
	AutoAddedClasses       []string        `json:"auto_added_classes"`
	UnmatchedImages        []string        `json:"unmatched_images"`
	UnmatchedXMLs          []string        `json:"unmatched_xmls"`
	Collisions             []string        `json:"collisions"`
	SkippedPairs           []Skipped       `json:"skipped_pairs"`
	ExcludedTrained        []string        `json:"excluded_trained"`
	Classes                []string        `json:"classes"`
	Items                  []Item          `json:"items"`
	Cancelled              bool            `json:"cancelled"`

	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// Images returns the source image paths of every converted pair, in
// processing order.
func (r *Report) Images() []string {
	out := make([]string, 0, len(r.Items))
	for _, it := range r.Items {
		out = append(out, it.Image)
	}
	return out
}

// SplitImages returns the source image paths converted into split.
func (r *Report) SplitImages(split string) []string {
	var out []string
	for _, it := range r.Items {
		if it.Split == split {
			out = append(out, it.Image)
		}
	}
	return out
}
