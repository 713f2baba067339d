package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/roamsquad/roamsquad-go-api/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ChatMessage{}, &models.SupportTicket{}, &models.Notification{}))
	return db
}

func seedMessage(t *testing.T, db *gorm.DB, roomID, senderID, body string, createdAt time.Time) models.ChatMessage {
	t.Helper()
	message := models.ChatMessage{
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      body,
		Kind:      "text",
		CreatedAt: createdAt,
	}
	require.NoError(t, db.Create(&message).Error)
	return message
}

func TestChatRepositorySaveAssignsID(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)

	message := models.ChatMessage{RoomID: "trip:T1", SenderID: "user-1", Body: "hello", Kind: "text"}
	require.NoError(t, repo.Save(context.Background(), &message))
	require.NotEmpty(t, message.ID)

	found, err := repo.FindByID(context.Background(), message.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", found.Body)
}

func TestChatRepositoryListByRoomChronologicalWindow(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedMessage(t, db, "trip:T1", "user-1", string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
	}
	seedMessage(t, db, "trip:T2", "user-1", "other room", base)

	messages, err := repo.ListByRoom(context.Background(), "trip:T1", time.Time{}, 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)

	// The newest page, returned oldest-first.
	require.Equal(t, "c", messages[0].Body)
	require.Equal(t, "e", messages[2].Body)

	older, err := repo.ListByRoom(context.Background(), "trip:T1", messages[0].CreatedAt, 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, "a", older[0].Body)
}

func TestChatRepositoryLatestByRoom(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)

	base := time.Now().UTC().Add(-time.Hour)
	seedMessage(t, db, "trip:T1", "user-1", "older", base)
	newest := seedMessage(t, db, "trip:T1", "user-2", "newest", base.Add(time.Minute))

	latest, err := repo.LatestByRoom(context.Background(), "trip:T1")
	require.NoError(t, err)
	require.Equal(t, newest.ID, latest.ID)

	_, err = repo.LatestByRoom(context.Background(), "trip:empty")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestChatRepositoryDelete(t *testing.T) {
	db := testDB(t)
	repo := NewChatRepository(db)

	message := seedMessage(t, db, "trip:T1", "user-1", "gone soon", time.Now().UTC())
	require.NoError(t, repo.Delete(context.Background(), message.ID))

	_, err := repo.FindByID(context.Background(), message.ID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
