package domain

import "time"

// ConversationRecord is one persisted question/answer turn
type ConversationRecord struct {
	ID               string           `json:"id"`
	Question         string           `json:"question"`
	Answer           string           `json:"answer"`
	Collection       string           `json:"collection"`
	Sources          []Document       `json:"sources"`
	History          []HistoryMessage `json:"history"`
	ClientIP         string           `json:"clientIp"`
	Timestamp        time.Time        `json:"timestamp"`
	ConvID           string           `json:"convId"`
	RestatedQuestion string           `json:"restatedQuestion"`
	Suggestions      []string         `json:"suggestions"`
	UUID             string           `json:"uuid"`
	Title            string           `json:"title,omitempty"`
}

// RecordPatch is a partial update applied to an existing record
type RecordPatch struct {
	Title *string
}

// Stats represents system statistics
type Stats struct {
	TotalConversations int    `json:"total_conversations"`
	SiteID             string `json:"site_id"`
}
