package topic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/rabbithole/internal/ai"
)

const (
	// one LLM call per batch; 30 summaries fits the context budget
	classifyBatchSize = 30
	// conversations below this are one-off lookups, noise for clustering
	minMessagesForClassification = 4
	sampleMessages               = 3
	sampleContentLen             = 150
)

// ConversationInput is the compact view of a stored conversation handed to
// classification and reconciliation. ID is the raw export id the model sees;
// the user prefix is applied when links are written.
type ConversationInput struct {
	ID           string
	Title        string
	CreatedAt    *time.Time
	UpdatedAt    *time.Time
	MessageCount int
	Sample       string
}

type MessagePreview struct {
	Role    string
	Content string
}

// BuildSample renders the opening messages of a conversation as a one-line
// sample for the classification prompt.
func BuildSample(previews []MessagePreview) string {
	if len(previews) > sampleMessages {
		previews = previews[:sampleMessages]
	}
	parts := make([]string, 0, len(previews))
	for _, p := range previews {
		content := p.Content
		if runes := []rune(content); len(runes) > sampleContentLen {
			content = string(runes[:sampleContentLen])
		}
		parts = append(parts, fmt.Sprintf("[%s]: %s", p.Role, content))
	}
	return strings.Join(parts, " | ")
}

// ClusterProposal is the expected shape of one classifier cluster. Anything
// else in the model reply is rejected at the parse boundary.
type ClusterProposal struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	ConversationIDs []string `json:"conversation_ids"`
}

// ClassificationParseError marks a model reply that was not valid JSON after
// fence stripping. One bad batch must not abort the others.
type ClassificationParseError struct {
	Raw string
	Err error
}

func (e *ClassificationParseError) Error() string {
	return fmt.Sprintf("classification reply is not valid JSON: %v", e.Err)
}

func (e *ClassificationParseError) Unwrap() error { return e.Err }

type Classifier struct {
	provider  ai.Provider
	batchSize int
	log       *zap.SugaredLogger
}

func NewClassifier(provider ai.Provider, log *zap.SugaredLogger) *Classifier {
	return &Classifier{provider: provider, batchSize: classifyBatchSize, log: log}
}

// Classify filters out trivial conversations, classifies the rest in batches,
// and merges the proposed clusters across batches by normalized name. A batch
// whose reply cannot be parsed is logged and skipped; remaining batches are
// independent. An error is returned only when every batch failed.
func (c *Classifier) Classify(ctx context.Context, inputs []ConversationInput) ([]ClusterProposal, error) {
	substantive := make([]ConversationInput, 0, len(inputs))
	for _, in := range inputs {
		if in.MessageCount >= minMessagesForClassification {
			substantive = append(substantive, in)
		}
	}
	if len(substantive) == 0 {
		return nil, nil
	}

	var all []ClusterProposal
	batches, failed := 0, 0
	var lastErr error
	for i := 0; i < len(substantive); i += c.batchSize {
		end := i + c.batchSize
		if end > len(substantive) {
			end = len(substantive)
		}
		batches++
		proposals, err := c.classifyBatch(ctx, substantive[i:end])
		if err != nil {
			failed++
			lastErr = err
			c.log.Warnw("classification batch skipped", "batch", batches, "err", err)
			continue
		}
		all = append(all, proposals...)
	}
	if failed == batches {
		return nil, lastErr
	}
	return MergeProposals(all), nil
}

func (c *Classifier) classifyBatch(ctx context.Context, batch []ConversationInput) ([]ClusterProposal, error) {
	var sb strings.Builder
	for _, in := range batch {
		sample := in.Sample
		if runes := []rune(sample); len(runes) > 300 {
			sample = string(runes[:300])
		}
		fmt.Fprintf(&sb, "- ID: %s | Title: %q | Messages: %d | Sample: %s\n",
			in.ID, in.Title, in.MessageCount, sample)
	}

	prompt := fmt.Sprintf(`You are analyzing a user's chat-assistant conversation history to identify "rabbit holes" -- recurring topics or deep dives the user keeps exploring.

Below are conversation summaries. Group them into thematic rabbit holes. A rabbit hole is a topic the user has explored across one or more conversations.

Conversations:
%s

Return a JSON array of rabbit holes. Each rabbit hole:
- "name": short topic name (3-6 words)
- "description": 1-2 sentence description of this rabbit hole
- "conversation_ids": array of conversation IDs that belong to this rabbit hole

Rules:
- A conversation can belong to multiple rabbit holes
- Ignore trivial/one-off conversations (translations, simple lookups)
- Focus on substantive intellectual explorations
- Return ONLY valid JSON, no markdown fences`, sb.String())

	raw, err := c.provider.Complete(ctx, []ai.Message{{Role: "user", Content: prompt}}, 0.3, 4096)
	if err != nil {
		return nil, err
	}

	cleaned := ai.StripFences(raw)
	var proposals []ClusterProposal
	if err := json.Unmarshal([]byte(cleaned), &proposals); err != nil {
		return nil, &ClassificationParseError{Raw: raw, Err: err}
	}
	return proposals, nil
}

// MergeProposals collapses clusters that normalize to the same name, keeping
// the first name/description and unioning conversation id sets.
func MergeProposals(proposals []ClusterProposal) []ClusterProposal {
	merged := make(map[NormalizedName]*ClusterProposal)
	var order []NormalizedName
	for _, p := range proposals {
		key := Normalize(p.Name)
		if key == "" {
			continue
		}
		existing, ok := merged[key]
		if !ok {
			cp := p
			cp.ConversationIDs = dedupe(p.ConversationIDs)
			merged[key] = &cp
			order = append(order, key)
			continue
		}
		existing.ConversationIDs = dedupe(append(existing.ConversationIDs, p.ConversationIDs...))
	}
	out := make([]ClusterProposal, 0, len(order))
	for _, key := range order {
		out = append(out, *merged[key])
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
