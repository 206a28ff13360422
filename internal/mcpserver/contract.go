package mcpserver

// LabelFormatContract describes the dataset layout and label format that
// convert_dataset produces, for consumers that read or write datasets.
const LabelFormatContract = `# yoloprep Dataset Contract

## Layout

` + "```" + `text
<target>/<dataset_name>/
  images/train/   images/val/     copied source images
  labels/train/   labels/val/     one .txt per image, same stem
  data.yaml                       training descriptor
  classes.txt                     class names, one per line, line index = class ID
` + "```" + `

## Label lines

One line per object:

` + "```" + `text
<class_id> <x_center> <y_center> <width> <height>
` + "```" + `

1. ` + "`class_id`" + ` is the zero-based index of the class in the registry order.
2. The four coordinates are normalized by image width and height, lie in [0, 1]
   and are printed with exactly six decimals.
3. Boxes are clamped to the image before normalization. A box with no area
   after clamping is dropped and reported.
4. An image whose annotation has no usable objects gets an empty label file.

## data.yaml

` + "```" + `yaml
path: .
train: images/train
val: images/val
nc: 2
names:
  0: cat
  1: dog
` + "```" + `

` + "`nc`" + ` always equals the number of names, and ` + "`names`" + ` matches classes.txt.

## Class IDs

IDs come from the class registry. Removing or reordering classes renumbers
every later class, so datasets built before such a change must be rebuilt.
Use analyze_dataset to detect a mismatch between a dataset and the registry.
`
