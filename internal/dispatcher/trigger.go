package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/stackrun/internal/platform/logger"
)

// redisTrigger implements Trigger over a Redis pub/sub channel,
// grounded on the teacher's internal/realtime/bus.redisBus. It is
// advisory only: Publish failures and dropped messages are logged and
// swallowed, never surfaced as dispatch errors, since the ticker poll
// in Pool.runLoop is the durability backstop.
type redisTrigger struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisTrigger connects to REDIS_ADDR and checks the connection with
// a ping. It does not subscribe; Subscribe listens on
// REDIS_TRIGGER_CHANNEL (default "stackrun:triggers").
func NewRedisTrigger(log *logger.Logger, addr, channel string) (Trigger, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("dispatcher: missing redis addr")
	}
	if channel == "" {
		channel = "stackrun:triggers"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("dispatcher: redis ping: %w", err)
	}

	return &redisTrigger{
		log:     log.With("component", "RedisTrigger"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (t *redisTrigger) Notify(ctx context.Context, stackRunID uuid.UUID) {
	if err := t.rdb.Publish(ctx, t.channel, stackRunID.String()).Err(); err != nil {
		t.log.Warn("self-trigger publish failed, relying on poll fallback", "stack_run_id", stackRunID, "error", err)
	}
}

func (t *redisTrigger) Subscribe(ctx context.Context) <-chan uuid.UUID {
	out := make(chan uuid.UUID)
	sub := t.rdb.Subscribe(ctx, t.channel)

	if _, err := sub.Receive(ctx); err != nil {
		t.log.Warn("redis subscribe failed, running in poll-only mode", "error", err)
		close(out)
		return out
	}

	go func() {
		defer close(out)
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				id, err := uuid.Parse(m.Payload)
				if err != nil {
					t.log.Warn("bad self-trigger payload", "payload", m.Payload, "error", err)
					continue
				}
				select {
				case out <- id:
				case <-ctx.Done():
					_ = sub.Close()
					return
				}
			}
		}
	}()

	return out
}

// NoopTrigger is a Trigger that never fires on its own, leaving the
// ticker poll as the sole scheduling path. Useful for tests and for
// running without Redis configured.
type NoopTrigger struct{}

func (NoopTrigger) Notify(ctx context.Context, stackRunID uuid.UUID) {}

func (NoopTrigger) Subscribe(ctx context.Context) <-chan uuid.UUID {
	ch := make(chan uuid.UUID)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
