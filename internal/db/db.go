package db

import (
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/suPer8Hu/rabbithole/internal/ingest"
	"github.com/suPer8Hu/rabbithole/internal/topic"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		log.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&topic.User{},
		&topic.Conversation{},
		&topic.Message{},
		&topic.Topic{},
		&topic.TopicConversation{},
		&topic.Insight{},
		&topic.ResearchRun{},
		&topic.DailyPlan{},
		&ingest.Job{},
	)
}
