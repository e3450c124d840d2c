package ws

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// Broadcaster 将房间事件投递到所有可能持有该房间成员的网关实例。
type Broadcaster interface {
	Publish(ctx context.Context, roomID string, msg []byte) error
}

// LocalBus 直接投递到本进程的 hub。
type LocalBus struct {
	hub *Hub
}

func NewLocalBus(hub *Hub) *LocalBus { return &LocalBus{hub: hub} }

func (b *LocalBus) Publish(_ context.Context, roomID string, msg []byte) error {
	b.hub.Deliver(roomID, msg)
	return nil
}

const roomChannelPrefix = "chat:room:"

// RedisBus 把房间事件发布到 Redis，并将 chat:room:* 上收到的消息（包括自己发布的）投递到本地 hub。
type RedisBus struct {
	client *redis.Client
	hub    *Hub
	sub    *redis.PubSub
	done   chan struct{}
}

func NewRedisBus(client *redis.Client, hub *Hub) *RedisBus {
	return &RedisBus{client: client, hub: hub, done: make(chan struct{})}
}

func (b *RedisBus) Publish(ctx context.Context, roomID string, msg []byte) error {
	if err := b.client.Publish(ctx, roomChannelPrefix+roomID, msg).Err(); err != nil {
		return fmt.Errorf("publish room %s: %w", roomID, err)
	}
	return nil
}

// Start 订阅成功后返回，之后持续投递消息，直到 ctx 取消或调用 Close。
func (b *RedisBus) Start(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe room channels: %w", err)
	}
	b.sub = sub
	go b.loop(ctx, sub.Channel())
	return nil
}

func (b *RedisBus) loop(ctx context.Context, ch <-chan *redis.Message) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			_ = b.sub.Close()
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			roomID := strings.TrimPrefix(m.Channel, roomChannelPrefix)
			b.hub.Deliver(roomID, []byte(m.Payload))
		}
	}
}

// Close 停止订阅并等待投递循环退出。
func (b *RedisBus) Close() error {
	if b.sub == nil {
		return nil
	}
	err := b.sub.Close()
	<-b.done
	log.Info().Msg("room bus closed")
	return err
}
