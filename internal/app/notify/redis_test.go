package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

// The hooks fire after a committed operation and must return immediately even
// when the broker is unresponsive. The listener below accepts connections but
// never answers, so a synchronous publish would stall for the full publish
// timeout.
func TestRedisPublisherDoesNotBlockCaller(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		var held []net.Conn
		for {
			conn, err := ln.Accept()
			if err != nil {
				for _, c := range held {
					c.Close()
				}
				return
			}
			held = append(held, conn)
		}
	}()

	client := redis.NewClient(&redis.Options{Addr: ln.Addr().String()})
	t.Cleanup(func() { client.Close() })
	pub := NewRedisPublisher(client, nil)

	start := time.Now()
	pub.LevelChanged(context.Background(), "u1", "bronze", "silver")
	pub.CommissionCredited(context.Background(), "u1", 250, 1)
	require.Less(t, time.Since(start), publishTimeout)
}
