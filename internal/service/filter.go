package service

import "github.com/liliang-cn/ragchat/internal/domain"

// BuildFilter derives the retrieval filter for a collection from the
// requested media types and the site policy.
//
// The media-type clause is always present: requested types are intersected
// with the site's enabled types, and an empty intersection falls back to
// every enabled type.
func BuildFilter(collection string, mediaTypes map[string]bool, site *domain.SitePolicy) domain.RetrievalFilter {
	fields := site.FilterFields
	if fields == (domain.FilterFields{}) {
		fields = domain.DefaultFilterFields()
	}

	active := make([]string, 0, len(site.EnabledMediaTypes))
	for _, t := range site.EnabledMediaTypes {
		if mediaTypes[t] {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		active = append(active, site.EnabledMediaTypes...)
	}

	filter := domain.RetrievalFilter{Clauses: []domain.FilterClause{
		{Field: fields.MediaType, Op: domain.OpIn, Values: active},
	}}

	if len(site.ExcludedAccessLevels) > 0 {
		filter.Clauses = append(filter.Clauses, domain.FilterClause{
			Field:  fields.AccessLevel,
			Op:     domain.OpNotIn,
			Values: append([]string(nil), site.ExcludedAccessLevels...),
		})
	}

	if authors := restrictedAuthors(collection, site); len(authors) > 0 {
		filter.Clauses = append(filter.Clauses, domain.FilterClause{
			Field:  fields.Author,
			Op:     domain.OpIn,
			Values: authors,
		})
	}

	return filter
}

func restrictedAuthors(collection string, site *domain.SitePolicy) []string {
	switch site.LibraryFilterMode {
	case "", domain.LibraryFilterAlways:
	default:
		return nil
	}
	authors := site.RestrictedCollections[collection]
	if len(authors) == 0 {
		return nil
	}
	return append([]string(nil), authors...)
}
