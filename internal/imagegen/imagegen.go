// Package imagegen defines the contract of an image generation backend.
package imagegen

import (
	"context"
	"errors"
)

// ErrNoImage is returned when the backend answered without an image,
// e.g. a safety refusal. It is not a transport failure.
var ErrNoImage = errors.New("generator returned no image")

// Reference is an input image. URL is filled in by backends that need
// publicly reachable inputs.
type Reference struct {
	Data     []byte
	MimeType string
	URL      string
}

type Request struct {
	Prompt     string
	References []Reference
}

type Image struct {
	Bytes    []byte
	URL      string
	MimeType string
}

type Generator interface {
	Generate(ctx context.Context, req Request) (*Image, error)
}
