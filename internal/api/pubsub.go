package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizparty/internal/domain"
)

// Redis is the pub/sub slice of the client the API needs.
type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Notification is the envelope the chat adapter subscribes to.
type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type clueExpiredData struct {
	Channel  string `json:"channel"`
	ClueID   string `json:"clue_id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type scoreAdjustedData struct {
	Channel    string `json:"channel"`
	UserID     string `json:"user_id"`
	Delta      int64  `json:"delta"`
	RoundScore int64  `json:"round_score"`
}

func (a *API) publishClueExpired(ctx context.Context, e domain.EventClueExpired) error {
	return a.publishNotification(ctx, e.Channel, e.Name(), clueExpiredData{
		Channel:  e.Channel,
		ClueID:   e.Clue.ID,
		Question: e.Clue.Question,
		Answer:   e.Clue.Answer,
	})
}

func (a *API) publishScoreAdjusted(ctx context.Context, e domain.EventScoreAdjusted) error {
	return a.publishNotification(ctx, e.Channel, e.Name(), scoreAdjustedData{
		Channel:    e.Channel,
		UserID:     e.UserID,
		Delta:      e.Delta,
		RoundScore: e.RoundScore,
	})
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	if a.redis == nil {
		return nil
	}

	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:channel:%s", a.prefix, channel), b).Err()
}
