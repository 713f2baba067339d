package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/roamsquad/roamsquad-go-api/internal/dto"
	"github.com/roamsquad/roamsquad-go-api/internal/models"
	"github.com/roamsquad/roamsquad-go-api/internal/repository"
	"github.com/roamsquad/roamsquad-go-api/pkg/realtime"
)

func chatTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ChatMessage{}, &models.SupportTicket{}, &models.Notification{}))
	return db
}

func chatTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)
	return mini, redis.NewClient(&redis.Options{Addr: mini.Addr()})
}

func newTestChatService(t *testing.T, db *gorm.DB, redisClient *redis.Client, authorizer RoomAuthorizer) ChatService {
	t.Helper()
	validate := validator.New(validator.WithRequiredStructEnabled())
	return NewChatService(repository.NewChatRepository(db), authorizer, redisClient, "roamtest", nil, validate, zerolog.Nop())
}

func TestChatServiceSendPersistsAndCachesLastMessage(t *testing.T) {
	db := chatTestDB(t)
	mini, redisClient := chatTestRedis(t)
	svc := newTestChatService(t, db, redisClient, nil)

	ctx := context.Background()
	message, err := svc.Send(ctx, "user-1", models.RoleUser, dto.SendMessageRequest{
		RoomID: "trip:T1",
		Body:   "anyone up for the glacier hike?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, message.ID)
	require.Equal(t, "trip:T1", message.RoomID)
	require.Equal(t, string(realtime.KindText), message.Kind)

	var stored models.ChatMessage
	require.NoError(t, db.Where("id = ?", message.ID).First(&stored).Error)
	require.Equal(t, "user-1", stored.SenderID)

	cached, err := mini.Get("roamtest:room:last:trip:T1")
	require.NoError(t, err)
	var summary dto.ChatMessageResponse
	require.NoError(t, json.Unmarshal([]byte(cached), &summary))
	require.Equal(t, message.ID, summary.ID)
}

func TestChatServiceSendRejectsInvalidRoom(t *testing.T) {
	db := chatTestDB(t)
	_, redisClient := chatTestRedis(t)
	svc := newTestChatService(t, db, redisClient, nil)

	_, err := svc.Send(context.Background(), "user-1", models.RoleUser, dto.SendMessageRequest{
		RoomID: "nonsense",
		Body:   "hello",
	})
	require.ErrorIs(t, err, ErrInvalidRoom)
}

func TestChatServiceSendSanitizesBody(t *testing.T) {
	db := chatTestDB(t)
	_, redisClient := chatTestRedis(t)
	svc := newTestChatService(t, db, redisClient, nil)

	message, err := svc.Send(context.Background(), "user-1", models.RoleUser, dto.SendMessageRequest{
		RoomID: "community:C1",
		Body:   `hello <script>alert("x")</script>world`,
	})
	require.NoError(t, err)
	require.NotContains(t, message.Body, "<script>")
	require.Contains(t, message.Body, "hello")
}

func TestChatServiceSendImageRequiresMediaURL(t *testing.T) {
	db := chatTestDB(t)
	_, redisClient := chatTestRedis(t)
	svc := newTestChatService(t, db, redisClient, nil)

	_, err := svc.Send(context.Background(), "user-1", models.RoleUser, dto.SendMessageRequest{
		RoomID: "trip:T1",
		Body:   "look at this",
		Kind:   string(realtime.KindImage),
	})
	require.Error(t, err)

	message, err := svc.Send(context.Background(), "user-1", models.RoleUser, dto.SendMessageRequest{
		RoomID:   "trip:T1",
		Body:     "look at this",
		Kind:     string(realtime.KindImage),
		MediaURL: "https://cdn.example.com/pic.png",
	})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/pic.png", message.MediaURL)
}

func TestChatServiceHistoryChronological(t *testing.T) {
	db := chatTestDB(t)
	_, redisClient := chatTestRedis(t)
	svc := newTestChatService(t, db, redisClient, nil)

	base := time.Now().UTC().Add(-time.Hour)
	for i, body := range []string{"first", "second", "third"} {
		message := models.ChatMessage{
			RoomID:    "trip:T1",
			SenderID:  "user-1",
			Body:      body,
			Kind:      string(realtime.KindText),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(&message).Error)
	}

	messages, err := svc.History(context.Background(), dto.ChatHistoryQuery{RoomID: "trip:T1"})
	require.NoError(t, err)
	require.Len(t, messages, 3)
	require.Equal(t, "first", messages[0].Body)
	require.Equal(t, "third", messages[2].Body)
}

func TestChatServiceDeleteOwnership(t *testing.T) {
	db := chatTestDB(t)
	_, redisClient := chatTestRedis(t)
	svc := newTestChatService(t, db, redisClient, nil)

	ctx := context.Background()
	message, err := svc.Send(ctx, "user-1", models.RoleUser, dto.SendMessageRequest{RoomID: "trip:T1", Body: "oops"})
	require.NoError(t, err)

	err = svc.Delete(ctx, "user-2", models.RoleUser, message.ID)
	require.ErrorIs(t, err, ErrNotMessageOwner)

	require.NoError(t, svc.Delete(ctx, "user-2", models.RoleAdmin, message.ID))

	var count int64
	require.NoError(t, db.Model(&models.ChatMessage{}).Where("id = ?", message.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestChatServiceDeleteInvalidatesLastMessageCache(t *testing.T) {
	db := chatTestDB(t)
	mini, redisClient := chatTestRedis(t)
	svc := newTestChatService(t, db, redisClient, nil)

	ctx := context.Background()
	first, err := svc.Send(ctx, "user-1", models.RoleUser, dto.SendMessageRequest{RoomID: "trip:T1", Body: "keep this"})
	require.NoError(t, err)
	latest, err := svc.Send(ctx, "user-1", models.RoleUser, dto.SendMessageRequest{RoomID: "trip:T1", Body: "delete this"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "user-1", models.RoleUser, latest.ID))
	require.False(t, mini.Exists("roamtest:room:last:trip:T1"))

	// The next read rebuilds the summary from what actually survives.
	last, err := svc.LastMessage(ctx, "trip:T1")
	require.NoError(t, err)
	require.Equal(t, first.ID, last.ID)
}

func TestChatServiceLastMessageFallsBackToRepository(t *testing.T) {
	db := chatTestDB(t)
	mini, redisClient := chatTestRedis(t)
	svc := newTestChatService(t, db, redisClient, nil)

	stored := models.ChatMessage{RoomID: "support:S1", SenderID: "user-1", Body: "my booking vanished", Kind: string(realtime.KindText)}
	require.NoError(t, db.Create(&stored).Error)

	last, err := svc.LastMessage(context.Background(), "support:S1")
	require.NoError(t, err)
	require.Equal(t, stored.ID, last.ID)

	// The fallback repopulates the cache.
	require.True(t, mini.Exists("roamtest:room:last:support:S1"))
}

func TestChatServiceSendHonoursAuthorizer(t *testing.T) {
	db := chatTestDB(t)
	_, redisClient := chatTestRedis(t)

	validate := validator.New(validator.WithRequiredStructEnabled())
	ticketRepo := repository.NewTicketRepository(db)
	support := NewSupportService(ticketRepo, nil, validate, zerolog.Nop())
	svc := newTestChatService(t, db, redisClient, support)

	ticket := models.SupportTicket{UserID: "owner-1", Subject: "Refund request", Status: models.TicketOpen}
	require.NoError(t, db.Create(&ticket).Error)

	ctx := context.Background()
	room := "support:" + ticket.ID

	_, err := svc.Send(ctx, "stranger", models.RoleUser, dto.SendMessageRequest{RoomID: room, Body: "let me in"})
	require.ErrorIs(t, err, ErrRoomNotAuthorised)

	_, err = svc.Send(ctx, "owner-1", models.RoleUser, dto.SendMessageRequest{RoomID: room, Body: "any update?"})
	require.NoError(t, err)

	_, err = svc.Send(ctx, "agent-1", models.RoleAdmin, dto.SendMessageRequest{RoomID: room, Body: "looking into it"})
	require.NoError(t, err)
}

func TestChatServiceSupportSummaryFansOutToPeers(t *testing.T) {
	db := chatTestDB(t)
	_, redisClient := chatTestRedis(t)

	validate := validator.New(validator.WithRequiredStructEnabled())
	support := NewSupportService(repository.NewTicketRepository(db), nil, validate, zerolog.Nop())
	svc := newTestChatService(t, db, redisClient, support)

	ticket := models.SupportTicket{UserID: "owner-1", Subject: "Refund request", Status: models.TicketOpen}
	require.NoError(t, db.Create(&ticket).Error)

	ctx := context.Background()
	pubsub := redisClient.Subscribe(ctx, "roamtest:realtime")
	t.Cleanup(func() { _ = pubsub.Close() })
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	_, err = svc.Send(ctx, "agent-1", models.RoleAdmin, dto.SendMessageRequest{
		RoomID: "support:" + ticket.ID,
		Body:   "looking into it",
	})
	require.NoError(t, err)

	// Peers must receive both summary legs: the admin role fan-out and the
	// direct push to the ticket owner.
	var adminLeg, ownerLeg bool
	deadline := time.After(2 * time.Second)
	for !adminLeg || !ownerLeg {
		select {
		case msg := <-pubsub.Channel():
			var event hubEvent
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
			if event.Event != realtime.EventSupportChatUpdated {
				continue
			}
			if event.Role == models.RoleAdmin {
				adminLeg = true
			}
			if event.UserID == "owner-1" {
				ownerLeg = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for support summary fan-out")
		}
	}
}

func TestParseRoomKey(t *testing.T) {
	room, err := parseRoomKey("trip:T9")
	require.NoError(t, err)
	require.Equal(t, realtime.RoomTrip, room.Kind)
	require.Equal(t, "T9", room.ID)

	for _, invalid := range []string{"", "trip:", "squad:T1", "trip"} {
		_, err := parseRoomKey(invalid)
		require.ErrorIs(t, err, ErrInvalidRoom, invalid)
	}
}
