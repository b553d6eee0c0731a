package topic

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) DB() *gorm.DB { return r.db }

// --- users ---

func (r *Repo) CreateUser(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *Repo) GetUserByID(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) GetUserByName(ctx context.Context, name string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repo) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&User{}).Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// --- conversations / messages ---

// CreateConversations inserts in batches, silently skipping ids already
// ingested. Conversations are immutable after first ingestion.
func (r *Repo) CreateConversations(ctx context.Context, convs []Conversation) error {
	if len(convs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(convs, 100).Error
}

func (r *Repo) CreateMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(msgs, 200).Error
}

func (r *Repo) ConversationsByIDs(ctx context.Context, ids []string) ([]Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var convs []Conversation
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

// FirstMessages returns the oldest limit messages of a conversation,
// nil-timestamped messages last.
func (r *Repo) FirstMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at IS NULL, created_at ASC, id ASC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) conversationExists(tx *gorm.DB, id string) (bool, error) {
	var n int64
	if err := tx.Model(&Conversation{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- topics ---

func (r *Repo) CreateTopic(ctx context.Context, t *Topic) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *Repo) TopicByID(ctx context.Context, id uint64) (*Topic, error) {
	var t Topic
	if err := r.db.WithContext(ctx).First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTopicPriority rewrites the heuristic score; the score is recomputed
// at classification time, never treated as authoritative.
func (r *Repo) UpdateTopicPriority(ctx context.Context, id uint64, score float64) error {
	return r.db.WithContext(ctx).Model(&Topic{}).
		Where("id = ?", id).
		Update("priority_score", score).Error
}

func (r *Repo) TopicsByUser(ctx context.Context, userID string) ([]Topic, error) {
	var topics []Topic
	q := r.db.WithContext(ctx).Order("priority_score DESC, id ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&topics).Error; err != nil {
		return nil, err
	}
	return topics, nil
}

// LinkConversation links a topic to a conversation only when the
// conversation row exists. Classifier output may carry hallucinated ids;
// those are dropped silently rather than surfaced as errors.
func (r *Repo) LinkConversation(ctx context.Context, topicID uint64, conversationID string) error {
	tx := r.db.WithContext(ctx)
	exists, err := r.conversationExists(tx, conversationID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&TopicConversation{TopicID: topicID, ConversationID: conversationID}).Error
}

// StaleTopics returns up to limit active topics in research order:
// never-researched first, then least recently researched, priority as the
// tie-breaker. This ordering is the scheduling policy.
func (r *Repo) StaleTopics(ctx context.Context, userID string, limit int) ([]Topic, error) {
	if limit <= 0 {
		limit = 5
	}
	q := r.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("last_researched_at IS NOT NULL, last_researched_at ASC, priority_score DESC").
		Limit(limit)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var topics []Topic
	if err := q.Find(&topics).Error; err != nil {
		return nil, err
	}
	return topics, nil
}

func (r *Repo) ConversationsForTopic(ctx context.Context, topicID uint64) ([]Conversation, error) {
	var convs []Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN rabbit_hole_conversations rhc ON rhc.conversation_id = conversations.id").
		Where("rhc.topic_id = ?", topicID).
		Order("conversations.created_at DESC").
		Find(&convs).Error
	if err != nil {
		return nil, err
	}
	return convs, nil
}

// --- insights / research runs ---

func (r *Repo) RecentInsights(ctx context.Context, topicID uint64, limit int) ([]Insight, error) {
	if limit <= 0 {
		limit = 3
	}
	var insights []Insight
	if err := r.db.WithContext(ctx).
		Where("topic_id = ?", topicID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&insights).Error; err != nil {
		return nil, err
	}
	return insights, nil
}

func (r *Repo) InsightsForTopic(ctx context.Context, topicID uint64) ([]Insight, error) {
	var insights []Insight
	if err := r.db.WithContext(ctx).
		Where("topic_id = ?", topicID).
		Order("created_at DESC, id DESC").
		Find(&insights).Error; err != nil {
		return nil, err
	}
	return insights, nil
}

func (r *Repo) RunsForTopic(ctx context.Context, topicID uint64, limit int) ([]ResearchRun, error) {
	if limit <= 0 {
		limit = 10
	}
	var runs []ResearchRun
	if err := r.db.WithContext(ctx).
		Where("topic_id = ?", topicID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

type InsightWithTopic struct {
	Insight
	TopicName string `json:"rabbit_hole_name"`
}

func (r *Repo) RecentInsightsAcrossTopics(ctx context.Context, userID string, limit int) ([]InsightWithTopic, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := r.db.WithContext(ctx).Model(&Insight{}).
		Select("insights.*, rabbit_holes.name AS topic_name").
		Joins("JOIN rabbit_holes ON rabbit_holes.id = insights.topic_id").
		Order("insights.created_at DESC, insights.id DESC").
		Limit(limit)
	if userID != "" {
		q = q.Where("rabbit_holes.user_id = ?", userID)
	}
	var out []InsightWithTopic
	if err := q.Scan(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

type TopicWithInsight struct {
	Topic
	LatestInsight *Insight
}

// ActiveTopicsWithLatestInsight returns the plan generator's snapshot:
// every active topic, highest priority first, each with its newest insight
// when one exists.
func (r *Repo) ActiveTopicsWithLatestInsight(ctx context.Context, userID string) ([]TopicWithInsight, error) {
	q := r.db.WithContext(ctx).
		Where("status = ?", StatusActive).
		Order("priority_score DESC, id ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var topics []Topic
	if err := q.Find(&topics).Error; err != nil {
		return nil, err
	}

	out := make([]TopicWithInsight, 0, len(topics))
	for _, t := range topics {
		entry := TopicWithInsight{Topic: t}
		var latest Insight
		err := r.db.WithContext(ctx).
			Where("topic_id = ?", t.ID).
			Order("created_at DESC, id DESC").
			First(&latest).Error
		switch {
		case err == nil:
			entry.LatestInsight = &latest
		case errors.Is(err, gorm.ErrRecordNotFound):
			// topic has never been researched
		default:
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// AppendResearch persists one research pass as a single transaction:
// the insight, the audit run, and the topic's freshness timestamps. If any
// write fails the topic stays stale and is re-selected next cycle.
func (r *Repo) AppendResearch(ctx context.Context, topicID uint64, insight *Insight, run *ResearchRun, researchedAt time.Time) error {
	insight.TopicID = topicID
	run.TopicID = topicID
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(insight).Error; err != nil {
			return err
		}
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		return tx.Model(&Topic{}).
			Where("id = ?", topicID).
			Updates(map[string]any{
				"last_researched_at": researchedAt,
				"updated_at":         researchedAt,
			}).Error
	})
}

// --- daily plans ---

func (r *Repo) UpsertDailyPlan(ctx context.Context, userID, planDate, planText string) error {
	plan := DailyPlan{UserID: userID, PlanDate: planDate, PlanText: planText}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "plan_date"}},
			DoUpdates: clause.Assignments(map[string]any{"plan_text": planText, "updated_at": time.Now().UTC()}),
		}).
		Create(&plan).Error
}

func (r *Repo) PlanForDate(ctx context.Context, userID, planDate string) (*DailyPlan, error) {
	var plan DailyPlan
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND plan_date = ?", userID, planDate).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// --- maintenance merge ---

// MergeDuplicates collapses topics sharing a normalized name. The lowest id
// in each group survives; conversation links, insights and research runs are
// re-pointed at it inside one transaction per group, so a failure leaves the
// group untouched. Running it on already-merged data is a no-op.
func (r *Repo) MergeDuplicates(ctx context.Context, userID string) (int, error) {
	q := r.db.WithContext(ctx).Order("id ASC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var topics []Topic
	if err := q.Find(&topics).Error; err != nil {
		return 0, err
	}

	type groupKey struct {
		userID string
		norm   NormalizedName
	}
	groups := make(map[groupKey][]Topic)
	var order []groupKey
	for _, t := range topics {
		k := groupKey{t.UserID, Normalize(t.Name)}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], t)
	}

	merged := 0
	for _, k := range order {
		group := groups[k]
		if len(group) <= 1 {
			continue
		}
		keep := group[0] // lowest id: the query is ordered ascending
		dupes := group[1:]

		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, d := range dupes {
				var links []TopicConversation
				if err := tx.Where("topic_id = ?", d.ID).Find(&links).Error; err != nil {
					return err
				}
				for _, l := range links {
					if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
						Create(&TopicConversation{TopicID: keep.ID, ConversationID: l.ConversationID}).Error; err != nil {
						return err
					}
				}
				if err := tx.Where("topic_id = ?", d.ID).Delete(&TopicConversation{}).Error; err != nil {
					return err
				}
				if err := tx.Model(&Insight{}).Where("topic_id = ?", d.ID).
					Update("topic_id", keep.ID).Error; err != nil {
					return err
				}
				if err := tx.Model(&ResearchRun{}).Where("topic_id = ?", d.ID).
					Update("topic_id", keep.ID).Error; err != nil {
					return err
				}
				if err := tx.Delete(&Topic{}, d.ID).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return merged, err
		}
		merged += len(dupes)
	}
	return merged, nil
}

// --- dashboard reads ---

type TopicSummary struct {
	Topic
	ConversationCount int64 `json:"conversation_count"`
	InsightCount      int64 `json:"insight_count"`
}

func (r *Repo) TopicSummaries(ctx context.Context, userID string) ([]TopicSummary, error) {
	topics, err := r.TopicsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]TopicSummary, 0, len(topics))
	for _, t := range topics {
		s := TopicSummary{Topic: t}
		if err := r.db.WithContext(ctx).Model(&TopicConversation{}).
			Where("topic_id = ?", t.ID).Count(&s.ConversationCount).Error; err != nil {
			return nil, err
		}
		if err := r.db.WithContext(ctx).Model(&Insight{}).
			Where("topic_id = ?", t.ID).Count(&s.InsightCount).Error; err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

type Stats struct {
	Conversations int64 `json:"total_conversations"`
	Messages      int64 `json:"total_messages"`
	ActiveTopics  int64 `json:"active_rabbit_holes"`
	Insights      int64 `json:"total_insights"`
	ResearchRuns  int64 `json:"total_runs"`
}

func (r *Repo) StatsForUser(ctx context.Context, userID string) (*Stats, error) {
	var s Stats
	db := r.db.WithContext(ctx)

	convQ := db.Model(&Conversation{})
	topicQ := db.Model(&Topic{}).Where("status = ?", StatusActive)
	if userID != "" {
		convQ = convQ.Where("user_id = ?", userID)
		topicQ = topicQ.Where("user_id = ?", userID)
	}
	if err := convQ.Count(&s.Conversations).Error; err != nil {
		return nil, err
	}
	if err := topicQ.Count(&s.ActiveTopics).Error; err != nil {
		return nil, err
	}

	msgQ := db.Model(&Message{})
	insQ := db.Model(&Insight{})
	runQ := db.Model(&ResearchRun{})
	if userID != "" {
		msgQ = msgQ.Joins("JOIN conversations ON conversations.id = messages.conversation_id").
			Where("conversations.user_id = ?", userID)
		insQ = insQ.Joins("JOIN rabbit_holes ON rabbit_holes.id = insights.topic_id").
			Where("rabbit_holes.user_id = ?", userID)
		runQ = runQ.Joins("JOIN rabbit_holes ON rabbit_holes.id = research_runs.topic_id").
			Where("rabbit_holes.user_id = ?", userID)
	}
	if err := msgQ.Count(&s.Messages).Error; err != nil {
		return nil, err
	}
	if err := insQ.Count(&s.Insights).Error; err != nil {
		return nil, err
	}
	if err := runQ.Count(&s.ResearchRuns).Error; err != nil {
		return nil, err
	}
	return &s, nil
}
