package ingest

import (
	"testing"
	"time"
)

const sampleExport = `[
  {
    "conversation_id": "conv-1",
    "title": "Learning Rust",
    "create_time": 1700000000,
    "update_time": 1700001000,
    "default_model_slug": "gpt-4o",
    "mapping": {
      "root": {"message": null},
      "n1": {"message": {"author": {"role": "user"}, "content": {"parts": ["how do lifetimes work?"]}, "create_time": 1700000100}},
      "n2": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["Lifetimes are..."]}, "create_time": 1700000200}},
      "n3": {"message": {"author": {"role": "system"}, "content": {"parts": ["system prompt"]}, "create_time": 1700000050}},
      "n4": {"message": {"author": {"role": "user"}, "content": {"parts": ["and borrows?"]}, "create_time": 1700000300}},
      "n5": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["Borrowing rules..."]}, "create_time": 1700000400}},
      "n6": {"message": {"author": {"role": "user"}, "content": {"parts": ["thanks", ""]}, "create_time": 1700000500}},
      "n7": {"message": {"author": {"role": "assistant"}, "content": {"parts": [{"asset": "img"}]}, "create_time": 1700000600}}
    }
  }
]`

func TestParseExport_FiltersRolesAndEmptyContent(t *testing.T) {
	convs, skipped, err := ParseExport([]byte(sampleExport))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 0 {
		t.Fatalf("skipped = %d, want 0", skipped)
	}
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}

	c := convs[0]
	if c.ID != "conv-1" || c.Title != "Learning Rust" || c.ModelSlug != "gpt-4o" {
		t.Fatalf("unexpected conversation header: %+v", c)
	}
	// n3 is system, n7 has no string parts: both excluded
	if c.MessageCount != 5 {
		t.Fatalf("message_count = %d, want 5", c.MessageCount)
	}
	for _, m := range c.Messages {
		if m.Role != "user" && m.Role != "assistant" {
			t.Fatalf("unexpected role %q", m.Role)
		}
		if m.Content == "" {
			t.Fatal("empty content must be filtered")
		}
	}
}

func TestParseExport_SortsByTimestampNilLast(t *testing.T) {
	export := `[
	  {"id": "c", "mapping": {
	    "a": {"message": {"author": {"role": "user"}, "content": {"parts": ["late"]}, "create_time": 300}},
	    "b": {"message": {"author": {"role": "user"}, "content": {"parts": ["no timestamp"]}}},
	    "c": {"message": {"author": {"role": "user"}, "content": {"parts": ["early"]}, "create_time": 100}}
	  }}
	]`
	convs, _, err := ParseExport([]byte(export))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msgs := convs[0].Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "early" || msgs[1].Content != "late" {
		t.Fatalf("wrong order: %q, %q", msgs[0].Content, msgs[1].Content)
	}
	if msgs[2].CreatedAt != nil {
		t.Fatal("nil-timestamped message must sort last")
	}
	for i := 0; i < len(msgs)-1; i++ {
		a, b := msgs[i].CreatedAt, msgs[i+1].CreatedAt
		if a != nil && b != nil && a.After(*b) {
			t.Fatalf("messages out of order at %d", i)
		}
	}
}

func TestParseExport_DefaultsAndFallbacks(t *testing.T) {
	export := `[{"id": "fallback-id", "mapping": {}}]`
	convs, _, err := ParseExport([]byte(export))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := convs[0]
	if c.ID != "fallback-id" {
		t.Fatalf("expected id fallback, got %q", c.ID)
	}
	if c.Title != "Untitled" {
		t.Fatalf("expected Untitled, got %q", c.Title)
	}
	if c.CreatedAt != nil || c.UpdatedAt != nil {
		t.Fatal("absent timestamps must stay nil")
	}
	if c.MessageCount != 0 {
		t.Fatalf("message_count = %d, want 0", c.MessageCount)
	}
}

func TestParseExport_MalformedRecordIsIsolated(t *testing.T) {
	export := `[
	  {"id": "good", "mapping": {}},
	  "this is not a conversation object",
	  {"id": "also-good", "mapping": {}}
	]`
	convs, skipped, err := ParseExport([]byte(export))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if skipped != 1 {
		t.Fatalf("skipped = %d, want 1", skipped)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}
}

func TestParseExport_PartsJoinedWithNewlines(t *testing.T) {
	export := `[{"id": "c", "mapping": {
	  "a": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["one", "  ", "two"]}, "create_time": 1}}
	}}]`
	convs, _, err := ParseExport([]byte(export))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := convs[0].Messages[0].Content; got != "one\ntwo" {
		t.Fatalf("content = %q, want %q", got, "one\ntwo")
	}
}

func TestParseExport_FractionalTimestamps(t *testing.T) {
	export := `[{"id": "c", "create_time": 1700000000.5, "mapping": {}}]`
	convs, _, err := ParseExport([]byte(export))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := time.Unix(1700000000, 500000000).UTC()
	if got := convs[0].CreatedAt; got == nil || !got.Equal(want) {
		t.Fatalf("created_at = %v, want %v", got, want)
	}
}

func TestParseExport_TopLevelGarbageIsError(t *testing.T) {
	if _, _, err := ParseExport([]byte("{not json")); err == nil {
		t.Fatal("expected error for undecodable document")
	}
}
