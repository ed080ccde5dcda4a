package changebus

import "testing"

func TestDefaultRedisConfig(t *testing.T) {
	cfg := DefaultRedisConfig()
	if cfg.RedisURL == "" {
		t.Error("expected a non-empty default redis url")
	}
	if cfg.Prefix == "" {
		t.Error("expected a non-empty default key prefix")
	}
}

// Redis itself (Subscribe/Publish/Close) dials a live server in NewRedis and
// is exercised only by integration tests run against a real Redis instance,
// not here.
