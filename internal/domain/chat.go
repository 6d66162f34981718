package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Request limits
const (
	MaxQuestionLength = 4000
	MaxHistoryLength  = 50
	MaxSourceCount    = 50
)

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Report JSON field names so errors match what the client sent
	chatValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// HistoryMessage is one prior turn supplied by the client
type HistoryMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// ChatRequest is the request to ask a question
type ChatRequest struct {
	Question         string           `json:"question" validate:"required,max=4000"`
	History          []HistoryMessage `json:"history,omitempty" validate:"max=50,dive"`
	Collection       string           `json:"collection,omitempty"`
	TemporarySession bool             `json:"temporarySession,omitempty"`
	// PrivateSession is the legacy name of TemporarySession
	PrivateSession bool            `json:"privateSession,omitempty"`
	MediaTypes     map[string]bool `json:"mediaTypes,omitempty"`
	SourceCount    int             `json:"sourceCount,omitempty" validate:"gte=0,lte=50"`
	UUID           string          `json:"uuid" validate:"required,uuid4"`
	ConvID         string          `json:"convId,omitempty" validate:"omitempty,max=128"`
}

// ComparisonRequest asks the same question to two models side by side
type ComparisonRequest struct {
	ChatRequest
	ModelA string `json:"modelA" validate:"required"`
	ModelB string `json:"modelB" validate:"required"`
}

// Normalize trims the question and fills defaults from the site policy.
// It must run before Validate.
func (r *ChatRequest) Normalize(site *SitePolicy) {
	r.Question = strings.TrimSpace(r.Question)
	r.Collection = strings.TrimSpace(r.Collection)
	r.TemporarySession = r.TemporarySession || r.PrivateSession
	r.PrivateSession = false

	if r.SourceCount == 0 {
		r.SourceCount = site.DefaultSourceCount
	}
	if r.Collection == "" {
		r.Collection = site.DefaultCollection
	}
}

// Validate checks the request against field rules and the site's collections
func (r *ChatRequest) Validate(site *SitePolicy) error {
	if err := chatValidate.Struct(r); err != nil {
		return toValidationError(err)
	}
	if len(site.Collections) > 1 {
		if r.Collection == "" {
			return &ValidationError{Field: "collection", Reason: "is required"}
		}
		if _, ok := site.Collections[r.Collection]; !ok {
			return &ValidationError{Field: "collection", Reason: fmt.Sprintf("unknown collection %q", r.Collection)}
		}
	}
	return nil
}

// Validate checks the comparison-specific fields on top of the chat request
func (r *ComparisonRequest) Validate(site *SitePolicy) error {
	if err := r.ChatRequest.Validate(site); err != nil {
		return err
	}
	if err := chatValidate.Struct(r); err != nil {
		return toValidationError(err)
	}
	return nil
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Reason: err.Error()}
	}

	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}

	var reason string
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "max":
		reason = fmt.Sprintf("must be at most %s", fe.Param())
	case "lte":
		reason = fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		reason = fmt.Sprintf("must be at least %s", fe.Param())
	case "uuid4":
		reason = "must be a valid v4 UUID"
	case "oneof":
		reason = fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		reason = fmt.Sprintf("failed %q check", fe.Tag())
	}
	return &ValidationError{Field: field, Reason: reason}
}
