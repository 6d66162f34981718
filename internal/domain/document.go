package domain

// Metadata keys read from retrieved documents
const (
	MetadataKeyTitle       = "title"
	MetadataKeyAuthor      = "author"
	MetadataKeyURL         = "url"
	MetadataKeyType        = "type"
	MetadataKeyLibrary     = "library"
	MetadataKeyAccessLevel = "access_level"
)

// Document is a retrieved source passage
type Document struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"pageContent"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score,omitempty"`
}

// Title returns the document title from metadata, if any
func (d Document) Title() string {
	if v, ok := d.Metadata[MetadataKeyTitle].(string); ok {
		return v
	}
	return ""
}
