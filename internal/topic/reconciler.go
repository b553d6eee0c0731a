package topic

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StoragePrefix namespaces export-local ids per user so the same export can
// be ingested by different users without id collisions.
func StoragePrefix(userID string) string {
	if userID == "" {
		return ""
	}
	return userID + ":"
}

type Reconciler struct {
	repo *Repo
	log  *zap.SugaredLogger
}

func NewReconciler(repo *Repo, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{repo: repo, log: log}
}

type ReconcileResult struct {
	Created int
	Reused  int
	Linked  int
}

// Reconcile merges proposed clusters into the stored topic set for one user.
// A cluster whose normalized name matches an existing topic reuses that
// topic's identity; otherwise a new topic is created with a freshly computed
// priority. Links are existence-checked, so hallucinated conversation ids
// from the classifier are dropped silently. The recency reference instant is
// captured once per pass so scores stay comparable within a batch.
func (r *Reconciler) Reconcile(ctx context.Context, userID string, proposals []ClusterProposal, convs map[string]ConversationInput) (ReconcileResult, error) {
	var res ReconcileResult
	if len(proposals) == 0 {
		return res, nil
	}
	now := time.Now().UTC()
	prefix := StoragePrefix(userID)

	existing, err := r.repo.TopicsByUser(ctx, userID)
	if err != nil {
		return res, err
	}
	byNorm := make(map[NormalizedName]uint64, len(existing))
	for _, t := range existing {
		key := Normalize(t.Name)
		if cur, ok := byNorm[key]; !ok || t.ID < cur {
			byNorm[key] = t.ID
		}
	}

	for _, p := range proposals {
		norm := Normalize(p.Name)
		if norm == "" {
			continue
		}

		score := r.scoreProposal(p, convs, now)

		topicID, ok := byNorm[norm]
		if ok {
			res.Reused++
			if err := r.repo.UpdateTopicPriority(ctx, topicID, score); err != nil {
				return res, err
			}
		} else {
			t := &Topic{
				UserID:        userID,
				Name:          p.Name,
				Description:   p.Description,
				Status:        StatusActive,
				PriorityScore: score,
			}
			if err := r.repo.CreateTopic(ctx, t); err != nil {
				return res, err
			}
			topicID = t.ID
			byNorm[norm] = topicID
			res.Created++
		}

		for _, rawID := range p.ConversationIDs {
			if err := r.repo.LinkConversation(ctx, topicID, prefix+rawID); err != nil {
				return res, err
			}
			res.Linked++
		}
	}

	r.log.Infow("reconciled topic clusters",
		"user", userID, "created", res.Created, "reused", res.Reused)
	return res, nil
}

func (r *Reconciler) scoreProposal(p ClusterProposal, convs map[string]ConversationInput, now time.Time) float64 {
	totalMsgs := 0
	var latest time.Time
	for _, rawID := range p.ConversationIDs {
		in, ok := convs[rawID]
		if !ok {
			continue
		}
		totalMsgs += in.MessageCount
		ts := in.UpdatedAt
		if ts == nil {
			ts = in.CreatedAt
		}
		if ts != nil && ts.After(latest) {
			latest = *ts
		}
	}
	return PriorityScore(len(p.ConversationIDs), totalMsgs, DaysSince(latest, now))
}

// MergeDuplicates runs the maintenance merge for one user, or globally when
// userID is empty.
func (r *Reconciler) MergeDuplicates(ctx context.Context, userID string) (int, error) {
	merged, err := r.repo.MergeDuplicates(ctx, userID)
	if err != nil {
		return merged, err
	}
	if merged > 0 {
		r.log.Infow("merged duplicate topics", "user", userID, "merged", merged)
	}
	return merged, nil
}
