package domain

import (
	"encoding/json"
	"time"
)

// Event kinds, used for logging and metrics labels
const (
	EventSiteID     = "siteId"
	EventToken      = "token"
	EventSourceDocs = "sourceDocs"
	EventWarning    = "warning"
	EventConvID     = "convId"
	EventDocID      = "docId"
	EventError      = "error"
	EventDone       = "done"
)

// StreamEvent is one server-sent event. Exactly one of the primary
// keys (siteId, token, sourceDocs, warning, convId, docId, error, done)
// is set; the rest are companions.
type StreamEvent struct {
	SiteID     string          `json:"siteId,omitempty"`
	Token      *string         `json:"token,omitempty"`
	Model      string          `json:"model,omitempty"`
	SourceDocs json.RawMessage `json:"sourceDocs,omitempty"`
	Warning    string          `json:"warning,omitempty"`
	ConvID     string          `json:"convId,omitempty"`
	Title      string          `json:"title,omitempty"`
	DocID      string          `json:"docId,omitempty"`
	Error      string          `json:"error,omitempty"`
	Type       string          `json:"type,omitempty"`
	IsBuilding bool            `json:"isBuilding,omitempty"`
	Done       bool            `json:"done,omitempty"`
	Timing     *TimingMetrics  `json:"timing,omitempty"`
}

// Kind returns the primary key of the event
func (e StreamEvent) Kind() string {
	switch {
	case e.Done:
		return EventDone
	case e.Error != "":
		return EventError
	case e.SiteID != "":
		return EventSiteID
	case e.Token != nil:
		return EventToken
	case e.SourceDocs != nil:
		return EventSourceDocs
	case e.Warning != "":
		return EventWarning
	case e.ConvID != "":
		return EventConvID
	case e.DocID != "":
		return EventDocID
	}
	return ""
}

// IsTerminal reports whether the event ends the stream
func (e StreamEvent) IsTerminal() bool {
	return e.Done || e.Error != ""
}

// TokenEvent builds a token event; model is empty outside comparison mode
func TokenEvent(token, model string) StreamEvent {
	return StreamEvent{Token: &token, Model: model}
}

// TimingMetrics is the side-channel performance report attached to the terminal event
type TimingMetrics struct {
	StartTime       time.Time `json:"startTime"`
	RetrievalMs     int64     `json:"retrievalMs"`
	TTFBMs          int64     `json:"ttfbMs"`
	FirstTokenMs    int64     `json:"firstTokenMs"`
	TotalMs         int64     `json:"totalMs"`
	TokenCount      int       `json:"tokenCount"`
	TokensPerSecond float64   `json:"tokensPerSecond"`
	Summary         string    `json:"summary"`
}
