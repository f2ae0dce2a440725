package rag

// CitationLink points at a source document used for an answer.
type CitationLink struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// GenerateResponse is the microservice answer: markdown plus ordered citations.
type GenerateResponse struct {
	Response      string         `json:"response"`
	CitationLinks []CitationLink `json:"citation_links"`
}

// UploadResponse is returned after the microservice indexed an uploaded document.
type UploadResponse struct {
	Message      string `json:"message"`
	DownloadLink string `json:"download_link"`
}
