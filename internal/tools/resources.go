package tools

import "context"

// ResourceSpec describes a readable resource.
type ResourceSpec struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContent is the result of reading a resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text"`
}

// ResourceReader reads a resource for one session.
type ResourceReader interface {
	Read(ctx context.Context) (*ResourceContent, error)
}

// ResourceReaderFunc adapts a function to ResourceReader.
type ResourceReaderFunc func(ctx context.Context) (*ResourceContent, error)

// Read calls f.
func (f ResourceReaderFunc) Read(ctx context.Context) (*ResourceContent, error) { return f(ctx) }

// ResourceFactory creates the reader of a resource bound to one session's API client.
type ResourceFactory func(api API) ResourceReader
