// Package recognizer extracts structured label fields from composite label
// images through an external vision model.
package recognizer

import (
	"context"
	"image"
)

// Recognizer turns a label image into raw model text.
type Recognizer interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// Func adapts a plain function to the Recognizer interface.
type Func func(ctx context.Context, img image.Image) (string, error)

// Recognize calls f.
func (f Func) Recognize(ctx context.Context, img image.Image) (string, error) {
	return f(ctx, img)
}

// Keys of the recognition response object.
const (
	KeyName    = "Name"
	KeyAge     = "Age"
	KeyDOB     = "Date of Birth"
	KeyDisease = "Disease"
)

// Fields is the structured result of one recognition call.
type Fields struct {
	Name        string
	Age         string
	DateOfBirth string
	Disease     string
	// Parsed reports whether the fields came from a decodable response.
	Parsed bool
}

// DefaultFields is the result used when recognition fails or its response
// cannot be parsed.
func DefaultFields() Fields {
	return Fields{Disease: "[]"}
}

// Map renders the fields with the response key names.
func (f Fields) Map() map[string]string {
	return map[string]string{
		KeyName:    f.Name,
		KeyAge:     f.Age,
		KeyDOB:     f.DateOfBirth,
		KeyDisease: f.Disease,
	}
}

// Diseases returns the disease field as a list.
func (f Fields) Diseases() []string {
	return ParseDiseases(f.Disease)
}
