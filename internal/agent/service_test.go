package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/rabbithole/internal/ai"
	"github.com/suPer8Hu/rabbithole/internal/search"
	"github.com/suPer8Hu/rabbithole/internal/topic"
)

// scriptedProvider answers by matching a substring of the prompt, so one
// fake covers query generation, synthesis, and plan prompts in a single run.
type scriptedProvider struct {
	replies map[string]string // prompt substring -> reply
	errOn   string            // prompt substring that fails
	calls   []string
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []ai.Message, temperature float64, maxTokens int) (string, error) {
	_ = ctx
	prompt := messages[len(messages)-1].Content
	p.calls = append(p.calls, prompt)
	if p.errOn != "" && strings.Contains(prompt, p.errOn) {
		return "", errors.New("provider unavailable")
	}
	for sub, reply := range p.replies {
		if strings.Contains(prompt, sub) {
			return reply, nil
		}
	}
	return "", fmt.Errorf("no scripted reply for prompt: %.80s", prompt)
}

type fakeSearch struct {
	results []search.Result
	err     error
	queries []string
}

func (s *fakeSearch) Search(ctx context.Context, query string, numResults int) ([]search.Result, error) {
	_ = ctx
	_ = numResults
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:agent_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&topic.User{}, &topic.Conversation{}, &topic.Message{}, &topic.Topic{},
		&topic.TopicConversation{}, &topic.Insight{}, &topic.ResearchRun{},
		&topic.DailyPlan{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedTopic(t *testing.T, db *gorm.DB, name string, priority float64, researchedAt *time.Time) *topic.Topic {
	t.Helper()
	tp := &topic.Topic{
		UserID:           "u1",
		Name:             name,
		Description:      "test topic",
		Status:           topic.StatusActive,
		PriorityScore:    priority,
		LastResearchedAt: researchedAt,
	}
	if err := db.Create(tp).Error; err != nil {
		t.Fatalf("seed topic: %v", err)
	}
	return tp
}

func defaultReplies() map[string]string {
	return map[string]string{
		"research assistant":       `["latest fermentation science news"]`,
		"analyzing web search":     `{"insight":"Koji is having a moment.","should_revisit":true,"urgency":"medium","reason":"new papers"}`,
		"personal knowledge coach": "1. TOP PRIORITY: fermentation",
	}
}

func newTestService(db *gorm.DB, prov ai.Provider, searcher search.Client) *Service {
	return NewService(topic.NewRepo(db), prov, searcher, nil, zap.NewNop().Sugar())
}

func TestRunCycle_ResearchesTopicAndWritesPlan(t *testing.T) {
	db := openTestDB(t)
	tp := seedTopic(t, db, "Fermentation", 12.5, nil)
	prov := &scriptedProvider{replies: defaultReplies()}
	searcher := &fakeSearch{results: []search.Result{
		{Title: "Koji revival", URL: "https://example.com/koji", Snippet: "everyone is making koji"},
	}}
	svc := newTestService(db, prov, searcher)
	ctx := context.Background()

	summary, err := svc.RunCycle(ctx, 5, "u1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Processed != 1 || summary.Skipped != 0 || !summary.PlanGenerated {
		t.Fatalf("summary = %+v", summary)
	}

	var ins topic.Insight
	if err := db.First(&ins, "topic_id = ?", tp.ID).Error; err != nil {
		t.Fatalf("insight missing: %v", err)
	}
	if ins.Content != "Koji is having a moment." || ins.Urgency != topic.UrgencyMedium || !ins.Grounded {
		t.Fatalf("unexpected insight: %+v", ins)
	}

	var run topic.ResearchRun
	if err := db.First(&run, "topic_id = ?", tp.ID).Error; err != nil {
		t.Fatalf("run missing: %v", err)
	}
	if !strings.Contains(run.Queries, "latest fermentation science news") {
		t.Fatalf("run queries = %q", run.Queries)
	}
	if !strings.Contains(run.SearchResults, "Koji revival") {
		t.Fatalf("run search results = %.120q", run.SearchResults)
	}

	var fresh topic.Topic
	if err := db.First(&fresh, tp.ID).Error; err != nil {
		t.Fatalf("reload topic: %v", err)
	}
	if fresh.LastResearchedAt == nil {
		t.Fatal("last_researched_at not updated")
	}

	status := svc.Status()
	if status.Running || status.RunsCompleted != 1 || status.LastRun == nil {
		t.Fatalf("status = %+v", status)
	}
}

func TestRunCycle_FailedTopicIsSkippedNotFatal(t *testing.T) {
	db := openTestDB(t)
	bad := seedTopic(t, db, "Broken Topic", 20, nil)
	good := seedTopic(t, db, "Fermentation", 10, nil)
	prov := &scriptedProvider{replies: defaultReplies(), errOn: "Broken Topic"}
	searcher := &fakeSearch{results: []search.Result{{Title: "t", URL: "u", Snippet: "s"}}}
	svc := newTestService(db, prov, searcher)

	summary, err := svc.RunCycle(context.Background(), 5, "u1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Processed != 1 || summary.Skipped != 1 {
		t.Fatalf("summary = %+v", summary)
	}

	var badTopic topic.Topic
	if err := db.First(&badTopic, bad.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if badTopic.LastResearchedAt != nil {
		t.Fatal("failed topic should stay stale")
	}
	var goodTopic topic.Topic
	if err := db.First(&goodTopic, good.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if goodTopic.LastResearchedAt == nil {
		t.Fatal("healthy topic should have been researched")
	}
}

func TestRunCycle_AllSearchesFailed_TopicSkipped(t *testing.T) {
	db := openTestDB(t)
	seedTopic(t, db, "Fermentation", 10, nil)
	prov := &scriptedProvider{replies: defaultReplies()}
	searcher := &fakeSearch{err: errors.New("search API down")}
	svc := newTestService(db, prov, searcher)

	summary, err := svc.RunCycle(context.Background(), 5, "u1")
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if summary.Skipped != 1 || summary.Processed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	var n int64
	if err := db.Model(&topic.Insight{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("insights written despite total search failure: %d", n)
	}
}

func TestRunCycle_SameDayRerunOverwritesPlan(t *testing.T) {
	db := openTestDB(t)
	seedTopic(t, db, "Fermentation", 10, nil)
	searcher := &fakeSearch{results: []search.Result{{Title: "t", URL: "u", Snippet: "s"}}}

	first := defaultReplies()
	svc := newTestService(db, &scriptedProvider{replies: first}, searcher)
	if _, err := svc.RunCycle(context.Background(), 5, "u1"); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	second := defaultReplies()
	second["personal knowledge coach"] = "REVISED PLAN"
	svc2 := newTestService(db, &scriptedProvider{replies: second}, searcher)
	if _, err := svc2.RunCycle(context.Background(), 5, "u1"); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	var plans []topic.DailyPlan
	if err := db.Find(&plans).Error; err != nil {
		t.Fatalf("find plans: %v", err)
	}
	if len(plans) != 1 {
		t.Fatalf("plan rows = %d, want 1", len(plans))
	}
	if plans[0].PlanText != "REVISED PLAN" {
		t.Fatalf("plan text = %q", plans[0].PlanText)
	}
}

func TestRunCycle_NeverResearchedSelectedFirst(t *testing.T) {
	db := openTestDB(t)
	old := time.Now().UTC().Add(-48 * time.Hour)
	seedTopic(t, db, "Already Researched", 99, &old)
	fresh := seedTopic(t, db, "Never Researched", 1, nil)
	prov := &scriptedProvider{replies: defaultReplies()}
	searcher := &fakeSearch{results: []search.Result{{Title: "t", URL: "u", Snippet: "s"}}}
	svc := newTestService(db, prov, searcher)

	// limit 1: only the stalest topic gets researched
	if _, err := svc.RunCycle(context.Background(), 1, "u1"); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	var n int64
	if err := db.Model(&topic.Insight{}).Where("topic_id = ?", fresh.ID).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatal("never-researched topic should be selected before a high-priority researched one")
	}
}

func TestBuildDailyPlan_IncludesPriorityAndUrgency(t *testing.T) {
	db := openTestDB(t)
	tp := seedTopic(t, db, "Fermentation", 13.4, nil)
	if err := db.Create(&topic.Insight{
		TopicID: tp.ID, Content: "Koji is trending", Grounded: true, Urgency: topic.UrgencyHigh,
	}).Error; err != nil {
		t.Fatalf("seed insight: %v", err)
	}
	seedTopic(t, db, "Dormant Interest", 2.0, nil)

	prov := &scriptedProvider{replies: defaultReplies()}
	svc := newTestService(db, prov, &fakeSearch{})

	if _, err := svc.BuildDailyPlan(context.Background(), "u1"); err != nil {
		t.Fatalf("plan: %v", err)
	}
	planPrompt := prov.calls[len(prov.calls)-1]
	if !strings.Contains(planPrompt, "[13.4] Fermentation: Koji is trending (urgency: high)") {
		t.Fatalf("plan prompt missing researched topic line:\n%s", planPrompt)
	}
	if !strings.Contains(planPrompt, "[2.0] Dormant Interest: No recent insights (urgency: low)") {
		t.Fatalf("plan prompt missing unresearched topic line:\n%s", planPrompt)
	}
}

func TestRunCycle_ConcurrentCycleRejected(t *testing.T) {
	svc := newTestService(openTestDB(t), &scriptedProvider{}, &fakeSearch{})
	if !svc.status.Begin() {
		t.Fatal("begin should succeed on a fresh status")
	}
	_, err := svc.RunCycle(context.Background(), 5, "u1")
	if !errors.Is(err, ErrCycleRunning) {
		t.Fatalf("err = %v, want ErrCycleRunning", err)
	}
}
