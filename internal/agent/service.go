package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/rabbithole/internal/ai"
	"github.com/suPer8Hu/rabbithole/internal/search"
	"github.com/suPer8Hu/rabbithole/internal/topic"
)

const (
	recentInsightContext = 3
	resultsPerQuery      = 3
	maxQueries           = 3
	searchResultsMaxLen  = 10000
)

var ErrCycleRunning = errors.New("research cycle already running")

// CycleLocker is the cross-process exclusion boundary. A nil locker means
// in-process exclusion only.
type CycleLocker interface {
	AcquireCycleLock(ctx context.Context, ttl time.Duration) (bool, error)
	ReleaseCycleLock(ctx context.Context) error
}

type Service struct {
	repo     *topic.Repo
	provider ai.Provider
	search   search.Client
	locker   CycleLocker
	status   *Status
	log      *zap.SugaredLogger
}

func NewService(repo *topic.Repo, provider ai.Provider, searcher search.Client, locker CycleLocker, log *zap.SugaredLogger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		search:   searcher,
		locker:   locker,
		status:   NewStatus(),
		log:      log,
	}
}

func (s *Service) Status() StatusSnapshot {
	return s.status.Snapshot()
}

type CycleSummary struct {
	Selected      int  `json:"selected"`
	Processed     int  `json:"processed"`
	Skipped       int  `json:"skipped"`
	PlanGenerated bool `json:"plan_generated"`
}

// RunCycle researches the stalest topics for one user, then regenerates the
// daily plan. Per-topic failures are logged and counted, never fatal: a
// skipped topic keeps its stale timestamp and floats back to the top of the
// next selection.
func (s *Service) RunCycle(ctx context.Context, topicLimit int, userID string) (CycleSummary, error) {
	release, err := s.begin(ctx)
	if err != nil {
		return CycleSummary{}, err
	}
	defer release()

	return s.cycleUser(ctx, topicLimit, userID)
}

// RunCycleAllUsers iterates every known user under one cycle lock. With no
// registered users it falls back to the single-tenant partition.
func (s *Service) RunCycleAllUsers(ctx context.Context, topicLimit int) error {
	release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer release()

	userIDs, err := s.repo.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	if len(userIDs) == 0 {
		userIDs = []string{""}
	}
	for _, uid := range userIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.cycleUser(ctx, topicLimit, uid); err != nil {
			s.log.Errorw("cycle failed for user", "user", uid, "err", err)
		}
	}
	return nil
}

func (s *Service) begin(ctx context.Context) (func(), error) {
	if !s.status.Begin() {
		return nil, ErrCycleRunning
	}
	if s.locker != nil {
		ok, err := s.locker.AcquireCycleLock(ctx, time.Hour)
		if err != nil || !ok {
			s.status.End(time.Now().UTC())
			if err != nil {
				return nil, err
			}
			return nil, ErrCycleRunning
		}
	}
	return func() {
		if s.locker != nil {
			_ = s.locker.ReleaseCycleLock(context.WithoutCancel(ctx))
		}
		s.status.End(time.Now().UTC())
	}, nil
}

func (s *Service) cycleUser(ctx context.Context, topicLimit int, userID string) (CycleSummary, error) {
	var summary CycleSummary

	topics, err := s.repo.StaleTopics(ctx, userID, topicLimit)
	if err != nil {
		return summary, err
	}
	summary.Selected = len(topics)
	if len(topics) == 0 {
		s.log.Infow("no active topics to research", "user", userID)
		return summary, nil
	}

	for _, t := range topics {
		if err := s.researchTopic(ctx, t); err != nil {
			summary.Skipped++
			s.log.Warnw("topic skipped this cycle",
				"topic", t.Name, "id", t.ID, "err", err)
			continue
		}
		summary.Processed++
	}

	if _, err := s.BuildDailyPlan(ctx, userID); err != nil {
		s.log.Errorw("daily plan generation failed", "user", userID, "err", err)
	} else {
		summary.PlanGenerated = true
	}

	s.log.Infow("research cycle complete",
		"user", userID,
		"selected", summary.Selected,
		"processed", summary.Processed,
		"skipped", summary.Skipped)
	return summary, nil
}

// Synthesis is the expected shape of the research synthesis reply.
// should_revisit is informational only; urgency falls back to low.
type Synthesis struct {
	Insight       string `json:"insight"`
	ShouldRevisit bool   `json:"should_revisit"`
	Urgency       string `json:"urgency"`
	Reason        string `json:"reason"`
}

func (s *Service) researchTopic(ctx context.Context, t topic.Topic) error {
	recent, err := s.recentInsightContext(ctx, t.ID)
	if err != nil {
		return err
	}

	queries, err := s.generateQueries(ctx, t, recent)
	if err != nil {
		return err
	}

	blocks := make([]string, 0, len(queries))
	for _, q := range queries {
		results, err := s.search.Search(ctx, q, resultsPerQuery)
		if err != nil {
			s.log.Warnw("search query failed", "topic", t.Name, "query", q, "err", err)
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Query: %s\n%s", q, search.FormatResults(results)))
	}
	if len(blocks) == 0 {
		return fmt.Errorf("all %d search queries failed", len(queries))
	}
	combined := strings.Join(blocks, "\n\n---\n\n")

	synthesis, rawSynthesis, err := s.synthesize(ctx, t, combined)
	if err != nil {
		return err
	}

	queriesJSON, err := json.Marshal(queries)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return s.repo.AppendResearch(ctx, t.ID,
		&topic.Insight{
			Content:  synthesis.Insight,
			Grounded: true,
			Urgency:  normalizeUrgency(synthesis.Urgency),
		},
		&topic.ResearchRun{
			Queries:       string(queriesJSON),
			Synthesis:     rawSynthesis,
			SearchResults: truncateRunes(combined, searchResultsMaxLen),
		},
		now,
	)
}

func (s *Service) recentInsightContext(ctx context.Context, topicID uint64) (string, error) {
	insights, err := s.repo.RecentInsights(ctx, topicID, recentInsightContext)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(insights))
	for _, in := range insights {
		lines = append(lines, fmt.Sprintf("- [%s] %s",
			in.CreatedAt.Format(time.RFC3339), truncateRunes(in.Content, 200)))
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Service) generateQueries(ctx context.Context, t topic.Topic, recentInsights string) ([]string, error) {
	if recentInsights == "" {
		recentInsights = "None yet"
	}
	prompt := fmt.Sprintf(`You are a research assistant. Given this "rabbit hole" topic the user has been exploring, generate 2-3 specific web search queries to find new developments, insights, or resources.

Rabbit Hole: %s
Description: %s
Recent insights (if any): %s

Return ONLY a JSON array of search query strings. No markdown, no explanation.`,
		t.Name, t.Description, recentInsights)

	raw, err := s.provider.Complete(ctx, []ai.Message{{Role: "user", Content: prompt}}, 0.5, 512)
	if err != nil {
		return nil, err
	}
	var queries []string
	if err := json.Unmarshal([]byte(ai.StripFences(raw)), &queries); err != nil {
		return nil, fmt.Errorf("query reply is not a JSON string array: %w", err)
	}
	if len(queries) == 0 {
		return nil, errors.New("model returned no search queries")
	}
	if len(queries) > maxQueries {
		queries = queries[:maxQueries]
	}
	return queries, nil
}

func (s *Service) synthesize(ctx context.Context, t topic.Topic, searchResults string) (Synthesis, string, error) {
	prompt := fmt.Sprintf(`You are analyzing web search results for a user's rabbit hole topic.

Rabbit Hole: %s
Description: %s

Search Results:
%s

Analyze these results and return a JSON object:
- "insight": A concise paragraph summarizing new findings or developments relevant to this rabbit hole
- "should_revisit": true/false -- should the user actively revisit this topic?
- "urgency": "high", "medium", or "low"
- "reason": Why this urgency level

Return ONLY valid JSON, no markdown fences.`, t.Name, t.Description, searchResults)

	raw, err := s.provider.Complete(ctx, []ai.Message{{Role: "user", Content: prompt}}, 0.4, 1024)
	if err != nil {
		return Synthesis{}, "", err
	}
	cleaned := ai.StripFences(raw)
	var syn Synthesis
	if err := json.Unmarshal([]byte(cleaned), &syn); err != nil {
		return Synthesis{}, "", fmt.Errorf("synthesis reply is not valid JSON: %w", err)
	}
	return syn, cleaned, nil
}

// BuildDailyPlan turns the prioritized topic snapshot into one plan text and
// upserts it for today's date; a rerun on the same date overwrites.
func (s *Service) BuildDailyPlan(ctx context.Context, userID string) (string, error) {
	entries, err := s.repo.ActiveTopicsWithLatestInsight(ctx, userID)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		insight := "No recent insights"
		urgency := topic.UrgencyLow
		if e.LatestInsight != nil {
			insight = e.LatestInsight.Content
			urgency = e.LatestInsight.Urgency
		}
		lines = append(lines, fmt.Sprintf("- [%.1f] %s: %s (urgency: %s)",
			e.PriorityScore, e.Name, insight, urgency))
	}

	prompt := fmt.Sprintf(`You are a personal knowledge coach. Based on the user's rabbit holes and latest research insights, create a concise daily action plan.

Rabbit Holes (sorted by priority):
%s

Create a structured daily plan with:
1. TOP PRIORITY: The 1-2 rabbit holes to actively work on today, with specific actions
2. QUICK WINS: 1-2 things that can be done in 15 minutes
3. WATCH LIST: Topics with new developments to keep an eye on
4. PARKED: Topics that can wait

Be specific and actionable. Keep it concise.`, strings.Join(lines, "\n"))

	planText, err := s.provider.Complete(ctx, []ai.Message{{Role: "user", Content: prompt}}, 0.5, 1500)
	if err != nil {
		return "", err
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := s.repo.UpsertDailyPlan(ctx, userID, today, planText); err != nil {
		return "", err
	}
	return planText, nil
}

func normalizeUrgency(u string) topic.Urgency {
	switch topic.Urgency(strings.ToLower(strings.TrimSpace(u))) {
	case topic.UrgencyHigh:
		return topic.UrgencyHigh
	case topic.UrgencyMedium:
		return topic.UrgencyMedium
	default:
		return topic.UrgencyLow
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
