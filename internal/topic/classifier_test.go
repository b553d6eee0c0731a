package topic

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/suPer8Hu/rabbithole/internal/ai"
)

type scriptedProvider struct {
	prompts []string
	replies []string
	errs    []error
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []ai.Message, temperature float64, maxTokens int) (string, error) {
	_ = ctx
	i := len(p.prompts)
	p.prompts = append(p.prompts, messages[len(messages)-1].Content)
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], nil
	}
	return "[]", nil
}

func makeInputs(n, messageCount int) []ConversationInput {
	out := make([]ConversationInput, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ConversationInput{
			ID:           string(rune('a'+i%26)) + "-conv",
			Title:        "Title",
			MessageCount: messageCount,
			Sample:       "[user]: hello | [assistant]: hi",
		})
	}
	return out
}

func TestClassify_SplitsIntoBatches(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"[]", "[]"}}
	c := NewClassifier(prov, zap.NewNop().Sugar())

	if _, err := c.Classify(context.Background(), makeInputs(35, 5)); err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(prov.prompts) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(prov.prompts))
	}
	if got := strings.Count(prov.prompts[0], "- ID:"); got != 30 {
		t.Fatalf("first batch has %d summaries, want 30", got)
	}
	if got := strings.Count(prov.prompts[1], "- ID:"); got != 5 {
		t.Fatalf("second batch has %d summaries, want 5", got)
	}
}

func TestClassify_FiltersTrivialConversations(t *testing.T) {
	prov := &scriptedProvider{}
	c := NewClassifier(prov, zap.NewNop().Sugar())

	proposals, err := c.Classify(context.Background(), makeInputs(10, 3))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if proposals != nil {
		t.Fatalf("expected no proposals, got %v", proposals)
	}
	if len(prov.prompts) != 0 {
		t.Fatalf("trivial conversations should not reach the model, got %d calls", len(prov.prompts))
	}
}

func TestClassify_StripsFencesAndMergesAcrossBatches(t *testing.T) {
	prov := &scriptedProvider{replies: []string{
		"```json\n[{\"name\":\"Language Learning & Practice\",\"description\":\"langs\",\"conversation_ids\":[\"c1\",\"c2\"]}]\n```",
		`[{"name":"Language Learning and Practice","description":"dup","conversation_ids":["c2","c3"]}]`,
	}}
	c := NewClassifier(prov, zap.NewNop().Sugar())
	c.batchSize = 2

	proposals, err := c.Classify(context.Background(), makeInputs(4, 6))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected merged single cluster, got %d", len(proposals))
	}
	got := proposals[0].ConversationIDs
	want := []string{"c1", "c2", "c3"}
	if len(got) != len(want) {
		t.Fatalf("conversation ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("conversation ids = %v, want %v", got, want)
		}
	}
}

func TestClassify_BadJSONIsTypedError(t *testing.T) {
	prov := &scriptedProvider{replies: []string{"sorry, I cannot do that"}}
	c := NewClassifier(prov, zap.NewNop().Sugar())

	_, err := c.Classify(context.Background(), makeInputs(5, 5))
	if err == nil {
		t.Fatal("expected error when the only batch fails to parse")
	}
	var parseErr *ClassificationParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ClassificationParseError, got %T: %v", err, err)
	}
	if parseErr.Raw == "" {
		t.Fatal("parse error should carry the raw reply")
	}
}

func TestClassify_FailingBatchIsIsolated(t *testing.T) {
	prov := &scriptedProvider{replies: []string{
		"not json at all",
		`[{"name":"Rust Internals","description":"d","conversation_ids":["c9"]}]`,
	}}
	c := NewClassifier(prov, zap.NewNop().Sugar())
	c.batchSize = 2

	proposals, err := c.Classify(context.Background(), makeInputs(4, 6))
	if err != nil {
		t.Fatalf("one bad batch should not fail the run: %v", err)
	}
	if len(proposals) != 1 || proposals[0].Name != "Rust Internals" {
		t.Fatalf("expected the good batch's cluster, got %v", proposals)
	}
}
