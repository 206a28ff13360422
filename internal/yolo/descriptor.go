package yolo

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest file names inside a dataset directory.
const (
	DescriptorFile = "data.yaml"
	ClassesFile    = "classes.txt"
)

// Split directory layout relative to the dataset directory.
const (
	TrainImagesDir = "images/train"
	ValImagesDir   = "images/val"
	TrainLabelsDir = "labels/train"
	ValLabelsDir   = "labels/val"
)

// Names is the ordered class list of a descriptor. It decodes from either a
// YAML sequence or a {id: name} mapping and always encodes as a mapping.
type Names []string

// MarshalYAML emits names as an ordered {0: name0, 1: name1, ...} mapping.
func (n Names) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle}
	for i, name := range n {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(i)},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: name},
		)
	}
	return node, nil
}

// UnmarshalYAML accepts a sequence of names or a mapping from integer IDs to
// names. Mapping IDs must be exactly 0..n-1.
func (n *Names) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*n = list
		return nil
	case yaml.MappingNode:
		var m map[int]string
		if err := value.Decode(&m); err != nil {
			return err
		}
		ids := make([]int, 0, len(m))
		for id := range m {
			ids = append(ids, id)
		}
		sort.Ints(ids)
		out := make([]string, len(ids))
		for i, id := range ids {
			if id != i {
				return fmt.Errorf("names: ids are not contiguous from 0 (found %d at position %d)", id, i)
			}
			out[i] = m[id]
		}
		*n = out
		return nil
	default:
		return fmt.Errorf("names: expected sequence or mapping, got %s", value.Tag)
	}
}

// Descriptor is the data.yaml document.
type Descriptor struct {
	Path  string `yaml:"path"`
	Train string `yaml:"train"`
	Val   string `yaml:"val"`
	NC    int    `yaml:"nc"`
	Names Names  `yaml:"names"`
}

// NewDescriptor returns the descriptor for a dataset laid out by the converter.
func NewDescriptor(names []string) *Descriptor {
	return &Descriptor{
		Path:  ".",
		Train: TrainImagesDir,
		Val:   ValImagesDir,
		NC:    len(names),
		Names: append(Names(nil), names...),
	}
}

// Marshal encodes the descriptor.
func (d *Descriptor) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("yolo: encode descriptor: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("yolo: encode descriptor: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseDescriptor decodes a data.yaml body. When nc is absent it is derived
// from names.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	var raw struct {
		Path  string `yaml:"path"`
		Train string `yaml:"train"`
		Val   string `yaml:"val"`
		NC    *int   `yaml:"nc"`
		Names Names  `yaml:"names"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("yolo: decode descriptor: %w", err)
	}
	d := Descriptor{Path: raw.Path, Train: raw.Train, Val: raw.Val, Names: raw.Names, NC: len(raw.Names)}
	if raw.NC != nil {
		d.NC = *raw.NC
	}
	return &d, nil
}

// FormatClasses renders classes.txt: one UTF-8 name per LF-terminated line.
func FormatClasses(names []string) []byte {
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// ParseClasses reads a one-name-per-line class file. Blank lines are
// ignored, surrounding whitespace and a UTF-8 BOM are stripped, and
// duplicates keep their first position.
func ParseClasses(data []byte) []string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		name := strings.TrimSpace(sc.Text())
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}
