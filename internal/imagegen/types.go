// Package imagegen produces illustrations for vocabulary items.
package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
)

// ErrImageSynthesis wraps every failure to produce an image.
var ErrImageSynthesis = errors.New("image synthesis failed")

// Image is a generated picture.
type Image struct {
	MimeType string
	Data     []byte
}

// DataURI embeds the image as data:<mime>;base64,<data>.
func (i *Image) DataURI() string {
	return "data:" + i.MimeType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Generator renders a prompt as an image.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
	Name() string
}
