package store

import (
	"context"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/deskchat/internal/metrics"
)

// latencyHook records every Redis round trip in the latency histogram.
type latencyHook struct{}

func (latencyHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (latencyHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
		return err
	}
}

func (latencyHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		metrics.RedisLatency.Observe(time.Since(start).Seconds())
		return err
	}
}
