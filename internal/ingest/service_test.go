package ingest

import (
	"context"
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/rabbithole/internal/ai"
	"github.com/suPer8Hu/rabbithole/internal/topic"
)

type fakeProvider struct {
	reply string
	calls int
}

func (p *fakeProvider) Complete(ctx context.Context, messages []ai.Message, temperature float64, maxTokens int) (string, error) {
	_ = ctx
	p.calls++
	return p.reply, nil
}

type recordingPublisher struct {
	published []string
}

func (p *recordingPublisher) PublishIngestJob(ctx context.Context, jobID string) error {
	_ = ctx
	p.published = append(p.published, jobID)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ingest_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&topic.User{}, &topic.Conversation{}, &topic.Message{}, &topic.Topic{},
		&topic.TopicConversation{}, &topic.Insight{}, &topic.ResearchRun{},
		&topic.DailyPlan{}, &Job{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

const testExport = `[
  {
    "conversation_id": "conv-1",
    "title": "Deep dive on fermentation",
    "create_time": 1700000000,
    "update_time": 1700005000,
    "mapping": {
      "m1": {"message": {"author": {"role": "user"}, "content": {"parts": ["why does sourdough rise?"]}, "create_time": 1700000100}},
      "m2": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["Wild yeast..."]}, "create_time": 1700000200}},
      "m3": {"message": {"author": {"role": "user"}, "content": {"parts": ["what about kimchi?"]}, "create_time": 1700000300}},
      "m4": {"message": {"author": {"role": "assistant"}, "content": {"parts": ["Lactobacillus..."]}, "create_time": 1700000400}}
    }
  },
  {
    "conversation_id": "conv-2",
    "title": "Quick unit conversion",
    "mapping": {
      "m1": {"message": {"author": {"role": "user"}, "content": {"parts": ["300f to c"]}, "create_time": 1700000100}}
    }
  }
]`

func newTestService(t *testing.T, db *gorm.DB, prov ai.Provider, pub Publisher) *Service {
	t.Helper()
	log := zap.NewNop().Sugar()
	topics := topic.NewRepo(db)
	return NewService(
		topics,
		NewJobRepo(db),
		topic.NewClassifier(prov, log),
		topic.NewReconciler(topics, log),
		pub,
		log,
	)
}

func TestIngestBytes_StoresPrefixedRowsAndQueuesJob(t *testing.T) {
	db := openTestDB(t)
	pub := &recordingPublisher{}
	svc := newTestService(t, db, &fakeProvider{reply: "[]"}, pub)
	ctx := context.Background()

	job, err := svc.IngestBytes(ctx, []byte(testExport), "u1")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if job.Status != JobQueued {
		t.Fatalf("status = %q, want queued", job.Status)
	}
	if job.Conversations != 2 || job.Messages != 5 {
		t.Fatalf("job counts = %d convs / %d msgs", job.Conversations, job.Messages)
	}
	if len(pub.published) != 1 || pub.published[0] != job.ID {
		t.Fatalf("job not published: %v", pub.published)
	}

	var conv topic.Conversation
	if err := db.First(&conv, "id = ?", "u1:conv-1").Error; err != nil {
		t.Fatalf("prefixed conversation missing: %v", err)
	}
	if conv.MessageCount != 4 || conv.UserID != "u1" {
		t.Fatalf("unexpected conversation row: %+v", conv)
	}
	var msgCount int64
	if err := db.Model(&topic.Message{}).Where("conversation_id = ?", "u1:conv-1").Count(&msgCount).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if msgCount != 4 {
		t.Fatalf("message rows = %d, want 4", msgCount)
	}
}

func TestIngestBytes_Reingest_IsIdempotent(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &fakeProvider{reply: "[]"}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.IngestBytes(ctx, []byte(testExport), "u1"); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}
	var n int64
	if err := db.Model(&topic.Conversation{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("conversations duplicated on re-ingest: %d", n)
	}
}

func TestClassify_CreatesTopicsAndLinks(t *testing.T) {
	db := openTestDB(t)
	prov := &fakeProvider{
		reply: `[{"name":"Fermentation Science","description":"food science deep dives","conversation_ids":["conv-1"]}]`,
	}
	svc := newTestService(t, db, prov, nil) // nil publisher: classify runs inline
	ctx := context.Background()

	job, err := svc.IngestBytes(ctx, []byte(testExport), "u1")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if job.Status != JobSucceeded {
		t.Fatalf("status = %q, want succeeded (error: %v)", job.Status, job.Error)
	}
	if job.TopicsCreated != 1 {
		t.Fatalf("topics_created = %d, want 1", job.TopicsCreated)
	}
	// conv-2 has < 4 messages: only one conversation reaches the model
	if prov.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", prov.calls)
	}

	var tp topic.Topic
	if err := db.First(&tp, "user_id = ?", "u1").Error; err != nil {
		t.Fatalf("topic missing: %v", err)
	}
	if tp.Name != "Fermentation Science" {
		t.Fatalf("topic name = %q", tp.Name)
	}
	var link topic.TopicConversation
	if err := db.First(&link, "topic_id = ?", tp.ID).Error; err != nil {
		t.Fatalf("link missing: %v", err)
	}
	if link.ConversationID != "u1:conv-1" {
		t.Fatalf("link points at %q, want u1:conv-1", link.ConversationID)
	}
}

func TestClassify_ParseFailureMarksJobFailed(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &fakeProvider{reply: "I refuse to answer in JSON"}, nil)
	ctx := context.Background()

	job, err := svc.IngestBytes(ctx, []byte(testExport), "u1")
	if err == nil {
		t.Fatal("expected classification error to propagate")
	}
	stored, getErr := svc.Job(ctx, job.ID)
	if getErr != nil {
		t.Fatalf("get job: %v", getErr)
	}
	if stored.Status != JobFailed {
		t.Fatalf("status = %q, want failed", stored.Status)
	}
	if stored.Error == nil || *stored.Error == "" {
		t.Fatal("failed job should carry the error text")
	}
}
