package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/travel-ledger/booking"
)

// OptionEvents publishes and follows travel option changes.
type OptionEvents struct {
	rdb     *redis.Client
	channel string
}

var _ booking.ChangePublisher = (*OptionEvents)(nil)

func NewOptionEvents(rdb *redis.Client) *OptionEvents {
	return &OptionEvents{
		rdb:     rdb,
		channel: ChannelOptionsChanged(),
	}
}

type optionChangedMsg struct {
	Type           string `json:"type"`
	TravelOptionID string `json:"travel_option_id"`
	TsUnix         int64  `json:"ts_unix"`
}

func (p *OptionEvents) PublishOptionChanged(ctx context.Context, travelOptionID string) error {
	msg := optionChangedMsg{
		Type:           "option_changed",
		TravelOptionID: travelOptionID,
		TsUnix:         time.Now().Unix(),
	}

	b, _ := json.Marshal(msg)

	return p.rdb.Publish(ctx, p.channel, b).Err()
}

// Subscribe calls handler for every change until ctx is done.
func (p *OptionEvents) Subscribe(ctx context.Context, handler func(ctx context.Context, travelOptionID string)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no message is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev optionChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &ev); err == nil &&
				ev.TravelOptionID != "" {
				handler(ctx, ev.TravelOptionID)
			}
		}
	}
}
