package domain

// Library filter modes for restricted collections
const (
	// LibraryFilterAlways adds the author clause whenever the requested
	// collection is listed in RestrictedCollections
	LibraryFilterAlways = "always"
)

// SitePolicy holds the per-site retrieval and access policy
type SitePolicy struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Collections       map[string]string `json:"collections"`
	DefaultCollection string            `json:"default_collection"`
	EnabledMediaTypes []string          `json:"enabled_media_types"`
	// ExcludedAccessLevels are never returned by retrieval
	ExcludedAccessLevels []string `json:"excluded_access_levels"`
	// RestrictedCollections maps a collection key to the authors it is limited to
	RestrictedCollections map[string][]string `json:"restricted_collections"`
	LibraryFilterMode     string              `json:"library_filter_mode"`
	FilterFields          FilterFields        `json:"filter_fields"`
	AllowedOrigins        []string            `json:"allowed_origins"`
	DefaultSourceCount    int                 `json:"default_source_count"`
}

// FilterFields names the metadata fields the retrieval filter targets
type FilterFields struct {
	MediaType   string `json:"media_type"`
	AccessLevel string `json:"access_level"`
	Author      string `json:"author"`
}

// DefaultFilterFields returns the default metadata field names
func DefaultFilterFields() FilterFields {
	return FilterFields{
		MediaType:   "type",
		AccessLevel: "access_level",
		Author:      "author",
	}
}
