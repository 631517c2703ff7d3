package redisstate

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/log"
	"github.com/redis/go-redis/v9"
)

// Publisher broadcasts session snapshots over redis pub/sub.
type Publisher struct {
	client redis.UniversalClient
}

func NewPublisher(client redis.UniversalClient) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, snap dialogue.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, channel(snap.SessionID), b).Err()
}

// Subscribe streams snapshots of a session until cancel is called or ctx ends.
func (p *Publisher) Subscribe(ctx context.Context, sessionID string) (<-chan dialogue.Snapshot, func()) {
	ctx, cancel := context.WithCancel(ctx)
	sub := p.client.Subscribe(ctx, channel(sessionID))
	out := make(chan dialogue.Snapshot, 8)

	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var snap dialogue.Snapshot
				if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
					log.WithError(err).WithField("session", sessionID).Warn("bad snapshot on redis channel")
					continue
				}
				select {
				case out <- snap:
				default:
					// slow reader: the next snapshot supersedes this one
				}
			}
		}
	}()

	return out, cancel
}

func channel(sessionID string) string {
	return fmt.Sprintf("voiceform:session:%s", sessionID)
}
