// Package retrieval adapts the Weaviate vector store to the chat retriever
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/liliang-cn/ragchat/internal/domain"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.uber.org/zap"
)

// metadataFields are the document properties returned alongside the content
var metadataFields = []string{
	domain.MetadataKeyTitle,
	domain.MetadataKeyAuthor,
	domain.MetadataKeyURL,
	domain.MetadataKeyType,
	domain.MetadataKeyLibrary,
	domain.MetadataKeyAccessLevel,
}

// WeaviateRetriever runs filtered nearText queries against one class per collection
type WeaviateRetriever struct {
	client       *weaviate.Client
	contentField string
	timeout      time.Duration
	logger       *zap.Logger
}

// NewWeaviateRetriever creates a retriever for a Weaviate instance at scheme://host
func NewWeaviateRetriever(host, scheme, contentField string, logger *zap.Logger) (*WeaviateRetriever, error) {
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   host,
		Scheme: scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	if contentField == "" {
		contentField = "content"
	}
	return &WeaviateRetriever{client: client, contentField: contentField, logger: logger}, nil
}

// WithTimeout bounds every query to d
func (r *WeaviateRetriever) WithTimeout(d time.Duration) *WeaviateRetriever {
	r.timeout = d
	return r
}

// ClassName maps a collection key to its Weaviate class name
func ClassName(collection string) string {
	r, size := utf8.DecodeRuneInString(collection)
	if r == utf8.RuneError {
		return collection
	}
	return string(unicode.ToUpper(r)) + collection[size:]
}

// Retrieve returns up to k documents from collection matching filter, ranked by similarity to query
func (r *WeaviateRetriever) Retrieve(ctx context.Context, collection string, filter domain.RetrievalFilter, query string, k int) ([]domain.Document, error) {
	className := ClassName(collection)
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	fields := make([]graphql.Field, 0, len(metadataFields)+2)
	fields = append(fields, graphql.Field{Name: r.contentField})
	for _, f := range metadataFields {
		fields = append(fields, graphql.Field{Name: f})
	}
	fields = append(fields, graphql.Field{Name: "_additional { id distance }"})

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	q := r.client.GraphQL().Get().
		WithClassName(className).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k)
	if where := BuildWhere(filter); where != nil {
		q = q.WithWhere(where)
	}

	result, err := q.Do(ctx)
	if err != nil {
		return nil, &domain.RetrievalError{Err: classifyTransportError(err)}
	}
	if len(result.Errors) > 0 {
		return nil, &domain.RetrievalError{Err: classifyQueryError(className, result.Errors[0].Message)}
	}

	get, _ := result.Data["Get"].(map[string]interface{})
	docs := r.parseDocuments(get, className)
	r.logger.Debug("retrieved documents",
		zap.String("class", className),
		zap.Int("count", len(docs)),
	)
	return docs, nil
}

// BuildWhere converts a retrieval filter into a Weaviate where clause.
// $in becomes an Or of Equal operands and $nin an And of NotEqual operands.
func BuildWhere(filter domain.RetrievalFilter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	for _, c := range filter.Clauses {
		if len(c.Values) == 0 {
			continue
		}

		op, join := filters.Equal, filters.Or
		if c.Op == domain.OpNotIn {
			op, join = filters.NotEqual, filters.And
		}

		values := make([]*filters.WhereBuilder, 0, len(c.Values))
		for _, v := range c.Values {
			values = append(values, filters.Where().
				WithPath([]string{c.Field}).
				WithOperator(op).
				WithValueText(v))
		}
		if len(values) == 1 {
			operands = append(operands, values[0])
			continue
		}
		operands = append(operands, filters.Where().WithOperator(join).WithOperands(values))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func (r *WeaviateRetriever) parseDocuments(get map[string]interface{}, className string) []domain.Document {
	objects, ok := get[className].([]interface{})
	if !ok {
		return []domain.Document{}
	}

	docs := make([]domain.Document, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}

		doc := domain.Document{Metadata: make(map[string]any)}
		for key, value := range m {
			switch key {
			case r.contentField:
				doc.Content, _ = value.(string)
			case "_additional":
				if additional, ok := value.(map[string]interface{}); ok {
					doc.ID, _ = additional["id"].(string)
					if distance, ok := additional["distance"].(float64); ok {
						doc.Score = 1 - distance
					}
				}
			default:
				if value != nil {
					doc.Metadata[key] = value
				}
			}
		}
		docs = append(docs, doc)
	}
	return docs
}

func classifyTransportError(err error) error {
	var netErr net.Error
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range []string{"connection refused", "no such host", "dial tcp", "connection reset", "i/o timeout"} {
		if strings.Contains(msg, signal) {
			return fmt.Errorf("%w: %v", domain.ErrConnectivity, err)
		}
	}
	return err
}

func classifyQueryError(className, message string) error {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "cannot query field") && strings.Contains(message, className) ||
		strings.Contains(lower, "class") && strings.Contains(lower, "not found") {
		return fmt.Errorf("%w: %s", domain.ErrIndexNotFound, message)
	}
	return errors.New(message)
}
