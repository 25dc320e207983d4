package pipeline

import (
	"image"
	"strconv"

	"github.com/MeKo-Tech/pedigree/internal/detector"
	"github.com/MeKo-Tech/pedigree/internal/recognizer"
	"github.com/MeKo-Tech/pedigree/internal/utils"
)

// Stages reported in warnings.
const (
	StageNormalize = "normalize"
	StageAssociate = "associate"
	StageRecognize = "recognize"
	StageAssemble  = "assemble"
	StageOverlay   = "overlay"
)

// PedigreeNode is one family-member symbol together with the pedigree
// attributes filled in downstream. Attributes that are not known are
// serialized as null.
type PedigreeNode struct {
	Index int `json:"index"`
	detector.Detection

	Box         []int     `json:"box"`
	Coordinates []float64 `json:"coordinates"`
	Center      []float64 `json:"center"`

	Name           *string  `json:"name"`
	Level          *int     `json:"level"`
	Sex            *string  `json:"sex"`
	DisplayName    *string  `json:"display_name"`
	Diseases       []string `json:"diseases"`
	Mother         *string  `json:"mother"`
	Father         *string  `json:"father"`
	Partners       []string `json:"partners"`
	Divorced       []string `json:"divorced"`
	NoParents      *bool    `json:"noparents"`
	TopLevel       *bool    `json:"top_level"`
	Status         *int     `json:"status"`
	DOB            *string  `json:"dob"`
	Age            *string  `json:"age"`
	AdoptedIn      *bool    `json:"adopted_in"`
	AdoptedOut     *bool    `json:"adopted_out"`
	MZTwin         *int     `json:"mztwin"`
	DZTwin         *int     `json:"dztwin"`
	Carrier        *bool    `json:"carrier"`
	Proband        *bool    `json:"proband"`
	Shading        []string `json:"shading"`
	AdditionalInfo []string `json:"additional_info"`
	Miscarriage    *bool    `json:"miscarriage"`
	Stillbirth     *bool    `json:"stillbirth"`
	Termination    *bool    `json:"termination"`

	textSet bool
}

// NewNode builds a node from a merged symbol detection.
func NewNode(index int, d detector.Detection) PedigreeNode {
	b := d.Box()
	c := b.Center()
	n := PedigreeNode{
		Index:       index,
		Detection:   d,
		Box:         b.Slice(),
		Coordinates: []float64{float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2)},
		Center:      []float64{c.X, c.Y},
		Name:        ptr(nodeName(index)),
	}
	switch d.Class {
	case detector.ClassFemale:
		n.Sex = ptr("F")
	case detector.ClassMale:
		n.Sex = ptr("M")
	case detector.ClassUnknown:
		n.Sex = ptr("U")
	case detector.ClassMiscarriage:
		n.Sex = ptr("U")
		n.Miscarriage = ptr(true)
	}
	return n
}

// SetText writes the recognized label fields. It reports false and leaves
// the node untouched when text was already set.
func (n *PedigreeNode) SetText(f recognizer.Fields) bool {
	if n.textSet {
		return false
	}
	n.DisplayName = ptr(f.Name)
	n.Age = ptr(f.Age)
	n.DOB = ptr(f.DateOfBirth)
	n.Diseases = f.Diseases()
	n.textSet = true
	return true
}

// HasText reports whether recognized fields were written.
func (n *PedigreeNode) HasText() bool { return n.textSet }

func nodeName(i int) string { return "node_" + strconv.Itoa(i) }

// TextLabel is a merged text detection and the node it was assigned to.
type TextLabel struct {
	detector.Detection
	Box       []int `json:"box"`
	NodeIndex int   `json:"node_index"` // -1 when unassigned
}

// PedigreeTree is the structured output for one diagram.
type PedigreeTree struct {
	ImageID         string         `json:"image_id"`
	SourceImagePath string         `json:"source_image_path"`
	Width           int            `json:"width"`
	Height          int            `json:"height"`
	Nodes           []PedigreeNode `json:"nodes"`
	Texts           []TextLabel    `json:"texts"`
}

// NewTree builds the tree skeleton from merged detections.
func NewTree(imageID, path string, bounds image.Rectangle, nodes, texts []detector.Detection) *PedigreeTree {
	t := &PedigreeTree{
		ImageID:         imageID,
		SourceImagePath: path,
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
		Nodes:           make([]PedigreeNode, len(nodes)),
		Texts:           make([]TextLabel, len(texts)),
	}
	for i, d := range nodes {
		t.Nodes[i] = NewNode(i, d)
	}
	for i, d := range texts {
		t.Texts[i] = TextLabel{Detection: d, Box: d.Box().Slice(), NodeIndex: -1}
	}
	return t
}

// NodeBoxes returns the bounding boxes of all nodes in index order.
func (t *PedigreeTree) NodeBoxes() []utils.Box {
	out := make([]utils.Box, len(t.Nodes))
	for i, n := range t.Nodes {
		out[i] = n.Detection.Box()
	}
	return out
}

// TextAssociation groups the text crops assigned to one node.
type TextAssociation struct {
	NodeIndex int
	Crops     []image.Image
	Boxes     []utils.Box
}

// NodeWarning records a non-fatal problem. NodeIndex is -1 when the
// problem is not tied to a node.
type NodeWarning struct {
	NodeIndex int    `json:"node_index"`
	Stage     string `json:"stage"`
	Message   string `json:"message"`
	Err       error  `json:"-"`
}

func newWarning(node int, stage string, err error) NodeWarning {
	return NodeWarning{NodeIndex: node, Stage: stage, Message: err.Error(), Err: err}
}

// Timing holds per-stage durations in nanoseconds.
type Timing struct {
	DetectionNs   int64 `json:"detection_ns"`
	AssociationNs int64 `json:"association_ns"`
	RecognitionNs int64 `json:"recognition_ns"`
	AssemblyNs    int64 `json:"assembly_ns"`
	TotalNs       int64 `json:"total_ns"`
}

// Result is the best-effort outcome of one pipeline run. Tree is always set
// when Process returns without error, even if Warnings is not empty.
type Result struct {
	Tree     *PedigreeTree `json:"tree"`
	Warnings []NodeWarning `json:"warnings"`
	Timing   Timing        `json:"timing"`
}

func ptr[T any](v T) *T { return &v }
