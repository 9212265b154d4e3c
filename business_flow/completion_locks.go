package businessflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const completionLockTTL = 30 * time.Second

// completionLocks serializes concurrent completion attempts for the same
// encounter. The lock is advisory: correctness rests on the compare-and-set
// status transition inside the workflow, this only stops two retries from
// racing through the saga steps at the same time. A redis SetNX lock covers
// multi-process deployments; a per-encounter mutex covers a single process
// when no redis client is configured.
type completionLocks struct {
	rc *redis.Client

	mu    sync.Mutex
	local map[uint]*sync.Mutex
}

func newCompletionLocks(rc *redis.Client) *completionLocks {
	return &completionLocks{
		rc:    rc,
		local: make(map[uint]*sync.Mutex),
	}
}

func (l *completionLocks) lockFor(encounterID uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.local[encounterID]
	if !ok {
		m = &sync.Mutex{}
		l.local[encounterID] = m
	}
	return m
}

// acquire blocks until the in-process lock is held, then takes the redis
// lock best-effort. The returned release function must be called exactly
// once.
func (l *completionLocks) acquire(ctx context.Context, encounterID uint) func() {
	m := l.lockFor(encounterID)
	m.Lock()

	var redisKey string
	if l.rc != nil {
		redisKey = fmt.Sprintf("clinic:completion-lock:%d", encounterID)
		// Ignore failures: the lock is advisory and redis may be down.
		l.rc.SetNX(ctx, redisKey, "1", completionLockTTL)
	}

	return func() {
		if l.rc != nil {
			l.rc.Del(context.Background(), redisKey)
		}
		m.Unlock()
	}
}
