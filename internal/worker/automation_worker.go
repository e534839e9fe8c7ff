// Package worker runs the background loop that fires due automation jobs.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shopdesk/shopdesk/internal/automation"
	"github.com/shopdesk/shopdesk/internal/pkg/distlock"
)

// AutomationWorker polls the job queue for due pause jobs and resumes rule
// walks through the engine. Multiple replicas may run; a distributed lock
// serializes the claim loop and SKIP LOCKED claiming makes double-delivery
// harmless either way (the staleness check discards stale jobs).
type AutomationWorker struct {
	db           *sql.DB
	queue        *automation.PGQueue
	engine       *automation.Engine
	lock         distlock.DistLock
	workerID     string
	pollInterval time.Duration
	batchSize    int

	// Stats
	totalProcessed int64
	totalStale     int64
	totalErrors    int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewAutomationWorker creates a worker over the given queue and engine.
func NewAutomationWorker(db *sql.DB, queue *automation.PGQueue, engine *automation.Engine, lock distlock.DistLock, pollInterval time.Duration, batchSize int) *AutomationWorker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &AutomationWorker{
		db:           db,
		queue:        queue,
		engine:       engine,
		lock:         lock,
		workerID:     fmt.Sprintf("automation-%s", uuid.New().String()[:8]),
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

// Start begins the worker loops.
func (w *AutomationWorker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[AutomationWorker] Starting worker %s", w.workerID)

	w.registerWorker()

	w.wg.Add(1)
	go w.pollLoop()

	w.wg.Add(1)
	go w.heartbeatLoop()
}

// Stop shuts the worker down, waiting for in-flight jobs to finish.
func (w *AutomationWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	log.Println("[AutomationWorker] Stopping...")

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[AutomationWorker] All goroutines stopped cleanly")
	case <-time.After(30 * time.Second):
		log.Println("[AutomationWorker] Shutdown timeout - forcing stop")
	}

	w.deregisterWorker()

	log.Printf("[AutomationWorker] Stopped. Processed: %d, Stale: %d, Errors: %d",
		atomic.LoadInt64(&w.totalProcessed),
		atomic.LoadInt64(&w.totalStale),
		atomic.LoadInt64(&w.totalErrors))
}

func (w *AutomationWorker) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.processDueJobs()
		}
	}
}

// processDueJobs claims one batch of due jobs and runs each through the
// engine. The distributed lock keeps replicas from competing over the same
// batch; losing the lock race just means waiting for the next tick.
func (w *AutomationWorker) processDueJobs() {
	ctx, cancel := context.WithTimeout(w.ctx, 2*time.Minute)
	defer cancel()

	if w.lock != nil {
		acquired, err := w.lock.Acquire(ctx)
		if err != nil {
			log.Printf("[AutomationWorker] Lock acquire error: %v", err)
			return
		}
		if !acquired {
			return
		}
		defer w.lock.Release(ctx)
	}

	jobs, err := w.queue.ClaimDue(ctx, time.Now(), w.batchSize)
	if err != nil {
		atomic.AddInt64(&w.totalErrors, 1)
		log.Printf("[AutomationWorker] Failed to claim due jobs: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	log.Printf("[AutomationWorker] Claimed %d due job(s)", len(jobs))

	for i := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.processJob(ctx, &jobs[i])
	}
}

func (w *AutomationWorker) processJob(ctx context.Context, job *automation.Job) {
	err := w.engine.Resume(ctx, job)

	status := automation.JobDone
	switch {
	case err == nil:
		atomic.AddInt64(&w.totalProcessed, 1)
	case errors.Is(err, automation.ErrStale):
		status = automation.JobStale
		atomic.AddInt64(&w.totalStale, 1)
	case automation.IsConfig(err):
		// Broken rule configuration cannot heal on retry.
		status = automation.JobFailed
		atomic.AddInt64(&w.totalErrors, 1)
		log.Printf("[AutomationWorker] Job %s failed permanently: %v", job.ID, err)
	default:
		// Transient failure (DB hiccup before the schedule claim). Release
		// the claim so a later poll retries; the staleness check still
		// discards the job if the rule moved on in the meantime.
		status = automation.JobPending
		atomic.AddInt64(&w.totalErrors, 1)
		log.Printf("[AutomationWorker] Job %s failed, will retry: %v", job.ID, err)
	}

	if err := w.queue.Finish(ctx, job.ID, status); err != nil {
		log.Printf("[AutomationWorker] Failed to finish job %s: %v", job.ID, err)
	}
}

func (w *AutomationWorker) registerWorker() {
	hostname, _ := os.Hostname()
	w.db.Exec(`
		INSERT INTO automation_workers (id, hostname, status, started_at, last_heartbeat_at)
		VALUES ($1, $2, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = 'running',
			started_at = NOW(),
			last_heartbeat_at = NOW()
	`, w.workerID, hostname)
}

func (w *AutomationWorker) deregisterWorker() {
	w.db.Exec(`UPDATE automation_workers SET status = 'stopped' WHERE id = $1`, w.workerID)
}

func (w *AutomationWorker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.db.Exec(`
				UPDATE automation_workers
				SET last_heartbeat_at = NOW(), total_processed = $2, total_errors = $3
				WHERE id = $1
			`, w.workerID, atomic.LoadInt64(&w.totalProcessed), atomic.LoadInt64(&w.totalErrors))
		}
	}
}
