package ingest

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"strings"
	"time"
)

// ParsedMessage is one flattened message from an export mapping node.
type ParsedMessage struct {
	ID        string
	Role      string
	Content   string
	CreatedAt *time.Time
}

// ParsedConversation is one conversation from the export with its message
// tree flattened into chronological order.
type ParsedConversation struct {
	ID           string
	Title        string
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
	ModelSlug    string
	Messages     []ParsedMessage
	MessageCount int
}

type rawNode struct {
	Message *rawMessage `json:"message"`
}

type rawMessage struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		Parts []any `json:"parts"`
	} `json:"content"`
	CreateTime *float64 `json:"create_time"`
}

type rawConversation struct {
	ConversationID   string             `json:"conversation_id"`
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	CreateTime       *float64           `json:"create_time"`
	UpdateTime       *float64           `json:"update_time"`
	DefaultModelSlug string             `json:"default_model_slug"`
	Mapping          map[string]rawNode `json:"mapping"`
}

// ParseExportFile reads and parses a conversations.json export.
func ParseExportFile(path string) ([]ParsedConversation, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	return ParseExport(data)
}

// ParseExport flattens a raw export into ordered conversations. A malformed
// conversation record is skipped, not fatal; the skipped count is returned
// so callers can log it. Only the top-level document failing to decode is an
// error.
func ParseExport(data []byte) ([]ParsedConversation, int, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, 0, err
	}

	conversations := make([]ParsedConversation, 0, len(records))
	skipped := 0
	for _, rec := range records {
		var raw rawConversation
		if err := json.Unmarshal(rec, &raw); err != nil {
			skipped++
			continue
		}
		conversations = append(conversations, flatten(raw))
	}
	return conversations, skipped, nil
}

func flatten(raw rawConversation) ParsedConversation {
	id := raw.ConversationID
	if id == "" {
		id = raw.ID
	}
	title := raw.Title
	if title == "" {
		title = "Untitled"
	}

	messages := make([]ParsedMessage, 0, len(raw.Mapping))
	for nodeID, node := range raw.Mapping {
		msg := node.Message
		if msg == nil {
			continue
		}
		role := msg.Author.Role
		if role != "user" && role != "assistant" {
			continue
		}
		text := joinParts(msg.Content.Parts)
		if text == "" {
			continue
		}
		messages = append(messages, ParsedMessage{
			ID:        nodeID,
			Role:      role,
			Content:   text,
			CreatedAt: tsToTime(msg.CreateTime),
		})
	}

	// chronological, nil timestamps after all timestamped messages
	sort.SliceStable(messages, func(i, j int) bool {
		ti, tj := messages[i].CreatedAt, messages[j].CreatedAt
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.Before(*tj)
	})

	return ParsedConversation{
		ID:           id,
		Title:        title,
		CreatedAt:    tsToTime(raw.CreateTime),
		UpdatedAt:    tsToTime(raw.UpdateTime),
		ModelSlug:    raw.DefaultModelSlug,
		Messages:     messages,
		MessageCount: len(messages),
	}
}

// joinParts concatenates the string parts of a message, dropping empty and
// non-string entries (image refs and tool payloads show up as objects).
func joinParts(parts []any) string {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		s, ok := p.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		texts = append(texts, s)
	}
	return strings.Join(texts, "\n")
}

// tsToTime converts epoch seconds (possibly fractional) to a UTC instant.
// Absent timestamps stay nil, never defaulted to now.
func tsToTime(ts *float64) *time.Time {
	if ts == nil {
		return nil
	}
	sec, frac := math.Modf(*ts)
	t := time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return &t
}
