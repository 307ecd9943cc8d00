package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goclaw/clusterctl/pkg/logengine"
)

func requireRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("CLUSTERCTL_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis is not available at %s: %v", addr, err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func uniqueKeyPrefix(name string) string {
	return fmt.Sprintf("clusterctl:test:%s:%d:", name, time.Now().UnixNano())
}

func cleanupPrefix(t *testing.T, client *redis.Client, prefix string) {
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			_ = client.Del(ctx, iter.Val()).Err()
		}
	})
}

func TestRedisEngineSuite(t *testing.T) {
	client := requireRedisClient(t)

	suite := &logengine.EngineTestSuite{
		NewEngine: func(t *testing.T) logengine.LogEngine {
			prefix := uniqueKeyPrefix(t.Name())
			cleanupPrefix(t, client, prefix)
			return New(client, Config{KeyPrefix: prefix})
		},
	}
	suite.RunAllTests(t)
}

func TestRedisEngine_TrimRemovesStreamEntries(t *testing.T) {
	client := requireRedisClient(t)
	ctx := context.Background()
	prefix := uniqueKeyPrefix("trim")
	cleanupPrefix(t, client, prefix)
	engine := New(client, Config{KeyPrefix: prefix})

	for i := 0; i < 10; i++ {
		if _, err := engine.Append(ctx, 1, []byte("r")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	if err := engine.Trim(ctx, 1, 7); err != nil {
		t.Fatalf("Trim failed: %v", err)
	}

	n, err := client.XLen(ctx, engine.streamKey(1)).Result()
	if err != nil {
		t.Fatalf("XLen failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("stream length = %d, want 3", n)
	}
}

func TestDecodeMessage(t *testing.T) {
	at := time.Unix(1_700_000_000, 5).UTC()
	rec, err := decodeMessage(redis.XMessage{
		ID:     "42-0",
		Values: map[string]interface{}{"payload": "hello", "at": fmt.Sprint(at.UnixNano())},
	})
	if err != nil {
		t.Fatalf("decodeMessage failed: %v", err)
	}
	if rec.LSN != 42 || string(rec.Payload) != "hello" || !rec.AppendedAt.Equal(at) {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, err := decodeMessage(redis.XMessage{ID: "bogus"}); err == nil {
		t.Fatal("expected error for malformed id")
	}
}

func TestEngine_ClosedWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	engine := New(client, Config{})
	_ = engine.Close()

	if _, err := engine.Append(context.Background(), 1, nil); err != logengine.ErrClosed {
		t.Fatalf("Append after Close = %v, want ErrClosed", err)
	}
	if engine.streamKey(3) != DefaultKeyPrefix+"{3}:stream" {
		t.Fatalf("unexpected stream key %s", engine.streamKey(3))
	}
}
