package rag

import "io"

// GenerateRequest is the body of POST {baseUrl}/generate.
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// UploadRequest carries a document destined for POST {baseUrl}/upload/.
type UploadRequest struct {
	Filename string    `json:"filename"`
	Content  io.Reader `json:"-"`
}
