package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/willibrandon/tollgate/internal/report"
)

// unreachable points at a port nothing listens on, so every call fails fast.
func unreachable() *ReportCache {
	return NewReportCache(Options{Addr: "127.0.0.1:1", Timeout: 100 * time.Millisecond})
}

func TestReportCache_UnreachableIsMiss(t *testing.T) {
	c := unreachable()
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "k", &report.Report{ServiceID: "svc_01"})

	r, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Nil(t, r)
	assert.Error(t, c.Ping(ctx))
}

func TestReportCache_BreakerOpensAfterFailures(t *testing.T) {
	c := unreachable()
	defer c.Close()

	ctx := context.Background()
	assert.Equal(t, "closed", c.State())

	for i := 0; i < 3; i++ {
		c.Get(ctx, "k")
	}
	assert.Equal(t, "open", c.State())

	// open breaker short-circuits without touching Redis
	start := time.Now()
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestNewReportCache_Defaults(t *testing.T) {
	c := NewReportCache(Options{Addr: "127.0.0.1:1"})
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.ttl)
}
