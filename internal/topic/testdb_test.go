package topic

import (
	"fmt"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&User{}, &Conversation{}, &Message{}, &Topic{}, &TopicConversation{},
		&Insight{}, &ResearchRun{}, &DailyPlan{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}
