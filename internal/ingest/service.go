package ingest

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/suPer8Hu/rabbithole/internal/topic"
)

// Publisher hands a queued job to the worker. A nil Publisher makes
// classification run inline, which tests and single-binary deployments use.
type Publisher interface {
	PublishIngestJob(ctx context.Context, jobID string) error
}

type Service struct {
	topics     *topic.Repo
	jobs       *JobRepo
	classifier *topic.Classifier
	reconciler *topic.Reconciler
	pub        Publisher
	log        *zap.SugaredLogger
}

func NewService(topics *topic.Repo, jobs *JobRepo, classifier *topic.Classifier, reconciler *topic.Reconciler, pub Publisher, log *zap.SugaredLogger) *Service {
	return &Service{
		topics:     topics,
		jobs:       jobs,
		classifier: classifier,
		reconciler: reconciler,
		pub:        pub,
		log:        log,
	}
}

func (s *Service) IngestFile(ctx context.Context, path, userID string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.IngestBytes(ctx, data, userID)
}

// IngestBytes parses and stores an export synchronously, then queues the
// classification half. The returned job is already persisted; its status
// tells the caller how far the slow half has come.
func (s *Service) IngestBytes(ctx context.Context, data []byte, userID string) (*Job, error) {
	parsed, skipped, err := ParseExport(data)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.log.Warnw("skipped malformed export records", "user", userID, "skipped", skipped)
	}

	prefix := topic.StoragePrefix(userID)
	convRows := make([]topic.Conversation, 0, len(parsed))
	var msgRows []topic.Message
	storedIDs := make([]string, 0, len(parsed))
	totalMsgs := 0
	for _, c := range parsed {
		storedID := prefix + c.ID
		storedIDs = append(storedIDs, storedID)
		convRows = append(convRows, topic.Conversation{
			ID:           storedID,
			UserID:       userID,
			Title:        c.Title,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: c.MessageCount,
			ModelSlug:    c.ModelSlug,
		})
		for _, m := range c.Messages {
			msgRows = append(msgRows, topic.Message{
				ID:             prefix + m.ID,
				ConversationID: storedID,
				Role:           m.Role,
				Content:        m.Content,
				CreatedAt:      m.CreatedAt,
			})
		}
		totalMsgs += c.MessageCount
	}

	if err := s.topics.CreateConversations(ctx, convRows); err != nil {
		return nil, err
	}
	if err := s.topics.CreateMessages(ctx, msgRows); err != nil {
		return nil, err
	}

	idsJSON, err := json.Marshal(storedIDs)
	if err != nil {
		return nil, err
	}
	job := &Job{
		ID:              NewJobID(),
		UserID:          userID,
		Status:          JobQueued,
		ConversationIDs: string(idsJSON),
		Conversations:   len(convRows),
		Messages:        totalMsgs,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	s.log.Infow("export stored",
		"user", userID, "job", job.ID,
		"conversations", job.Conversations, "messages", job.Messages)

	if s.pub == nil {
		if err := s.Classify(ctx, job.ID); err != nil {
			return job, err
		}
		return s.jobs.Get(ctx, job.ID)
	}
	if err := s.pub.PublishIngestJob(ctx, job.ID); err != nil {
		msg := err.Error()
		_ = s.jobs.MarkFailed(ctx, job.ID, msg)
		return job, err
	}
	return job, nil
}

// Classify runs the slow half of an ingestion: rebuild conversation
// summaries from the store, cluster them, and reconcile against existing
// topics. Invoked by the worker for queued jobs.
func (s *Service) Classify(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.jobs.MarkRunning(ctx, jobID); err != nil {
		return err
	}

	var storedIDs []string
	if err := json.Unmarshal([]byte(job.ConversationIDs), &storedIDs); err != nil {
		_ = s.jobs.MarkFailed(ctx, jobID, "corrupt conversation id list: "+err.Error())
		return err
	}

	inputs, convMap, err := s.buildInputs(ctx, job.UserID, storedIDs)
	if err != nil {
		_ = s.jobs.MarkFailed(ctx, jobID, err.Error())
		return err
	}

	proposals, err := s.classifier.Classify(ctx, inputs)
	if err != nil {
		_ = s.jobs.MarkFailed(ctx, jobID, err.Error())
		return err
	}

	res, err := s.reconciler.Reconcile(ctx, job.UserID, proposals, convMap)
	if err != nil {
		_ = s.jobs.MarkFailed(ctx, jobID, err.Error())
		return err
	}

	return s.jobs.MarkSucceeded(ctx, jobID, res.Created)
}

func (s *Service) Job(ctx context.Context, jobID string) (*Job, error) {
	return s.jobs.Get(ctx, jobID)
}

func (s *Service) buildInputs(ctx context.Context, userID string, storedIDs []string) ([]topic.ConversationInput, map[string]topic.ConversationInput, error) {
	convs, err := s.topics.ConversationsByIDs(ctx, storedIDs)
	if err != nil {
		return nil, nil, err
	}
	prefix := topic.StoragePrefix(userID)

	inputs := make([]topic.ConversationInput, 0, len(convs))
	convMap := make(map[string]topic.ConversationInput, len(convs))
	for _, c := range convs {
		msgs, err := s.topics.FirstMessages(ctx, c.ID, 3)
		if err != nil {
			return nil, nil, err
		}
		previews := make([]topic.MessagePreview, 0, len(msgs))
		for _, m := range msgs {
			previews = append(previews, topic.MessagePreview{Role: m.Role, Content: m.Content})
		}
		in := topic.ConversationInput{
			ID:           strings.TrimPrefix(c.ID, prefix),
			Title:        c.Title,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: c.MessageCount,
			Sample:       topic.BuildSample(previews),
		}
		inputs = append(inputs, in)
		convMap[in.ID] = in
	}
	return inputs, convMap, nil
}
