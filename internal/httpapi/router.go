package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/rabbithole/internal/common"
	"github.com/suPer8Hu/rabbithole/internal/config"
	"github.com/suPer8Hu/rabbithole/internal/httpapi/handlers"
	"github.com/suPer8Hu/rabbithole/internal/httpapi/middleware"
	"github.com/suPer8Hu/rabbithole/internal/store/rabbitmq"
	"github.com/suPer8Hu/rabbithole/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, pub *rabbitmq.Publisher, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, pub, log)

	r.GET("/ping", h.Ping)

	// users register
	r.POST("/users", h.CreateUser)

	// auth
	r.POST("/login", h.Login)
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// ingestion (JWT required)
	authGroup.POST("/ingest", h.Ingest)
	authGroup.GET("/ingest/jobs/:id", h.GetIngestJob)

	// rabbit holes
	authGroup.GET("/rabbit-holes", h.ListRabbitHoles)
	authGroup.GET("/rabbit-holes/:id", h.GetRabbitHole)
	authGroup.POST("/rabbit-holes/merge", h.MergeRabbitHoles)
	authGroup.GET("/insights", h.ListInsights)
	authGroup.GET("/plans/today", h.TodayPlan)
	authGroup.GET("/stats", h.Stats)

	// research agent
	authGroup.POST("/agent/run", h.RunAgent)
	authGroup.GET("/agent/status", h.AgentStatus)

	return r
}
