package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/rabbithole/internal/agent"
	"github.com/suPer8Hu/rabbithole/internal/ai"
	"github.com/suPer8Hu/rabbithole/internal/common"
	"github.com/suPer8Hu/rabbithole/internal/config"
	"github.com/suPer8Hu/rabbithole/internal/httpapi/middleware"
	"github.com/suPer8Hu/rabbithole/internal/ingest"
	"github.com/suPer8Hu/rabbithole/internal/search"
	"github.com/suPer8Hu/rabbithole/internal/store/rabbitmq"
	"github.com/suPer8Hu/rabbithole/internal/store/redisstore"
	"github.com/suPer8Hu/rabbithole/internal/topic"
)

type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Redis  *redisstore.Store
	Pub    *rabbitmq.Publisher
	Topics *topic.Repo

	IngestSvc *ingest.Service
	AgentSvc  *agent.Service

	Log *zap.SugaredLogger
}

// NewHandler wires the services the API serves. A nil publisher makes
// ingestion classify inline and /agent/run execute in-process, which the
// single-binary deployment uses.
func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, pub *rabbitmq.Publisher, log *zap.SugaredLogger) *Handler {
	provider := buildProvider(cfg)
	topics := topic.NewRepo(db)

	var ingestPub ingest.Publisher
	if pub != nil {
		ingestPub = pub
	}
	ingestSvc := ingest.NewService(
		topics,
		ingest.NewJobRepo(db),
		topic.NewClassifier(provider, log),
		topic.NewReconciler(topics, log),
		ingestPub,
		log,
	)

	searcher := search.NewYouClient(cfg.SearchBaseURL, cfg.SearchAPIKey)
	var locker agent.CycleLocker
	if rds != nil {
		locker = rds
	}
	agentSvc := agent.NewService(topics, provider, searcher, locker, log)

	return &Handler{
		DB:        db,
		Cfg:       cfg,
		Redis:     rds,
		Pub:       pub,
		Topics:    topics,
		IngestSvc: ingestSvc,
		AgentSvc:  agentSvc,
		Log:       log,
	}
}

func buildProvider(cfg config.Config) ai.Provider {
	switch strings.ToLower(cfg.AIProvider) {
	case "", "deepseek":
		return ai.NewDeepSeekProvider(cfg.DeepSeekBaseURL, cfg.DeepSeekAPIKey, cfg.DeepSeekModel)
	case "ollama":
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel)
	default:
		panic(fmt.Sprintf("unsupported AI_PROVIDER=%q", cfg.AIProvider))
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func userIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
