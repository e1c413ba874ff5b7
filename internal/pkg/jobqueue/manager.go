package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/keyforge-shop/keyforge/app/repository"
	"github.com/keyforge-shop/keyforge/internal/pkg/database"
	"github.com/keyforge-shop/keyforge/internal/pkg/env"
	"github.com/keyforge-shop/keyforge/internal/pkg/payments"
)

const (
	defaultWorkerCount        = 5
	defaultWebhookRetryPeriod = 5 * time.Minute
	webhookRetryMaxAttempts   = 10
	webhookRetryMinAge        = 10 * time.Minute
	webhookRetryBatchSize     = 50
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue       *Queue
	retryTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := defaultWorkerCount
		if v, err := strconv.Atoi(env.GetEnv("JOBQUEUE_WORKERS", "")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	retryPeriod := defaultWebhookRetryPeriod
	if v, err := strconv.Atoi(env.GetEnv("WEBHOOK_RETRY_INTERVAL_MINUTES", "")); err == nil && v > 0 {
		retryPeriod = time.Duration(v) * time.Minute
	}

	// Replay failed webhook records the provider gave up on
	m.retryTicker = time.NewTicker(retryPeriod)
	m.wg.Add(1)
	go m.webhookRetryWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.retryTicker != nil {
		m.retryTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// webhookRetryWorker periodically replays failed webhook ledger rows. The
// pipeline's idempotency makes a replay of something that meanwhile
// succeeded harmless.
func (m *Manager) webhookRetryWorker() {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started webhook retry worker")

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Webhook retry worker stopping")
			return
		case <-m.retryTicker.C:
			if err := m.retryFailedWebhooksOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Webhook retry error: %v", err)
			}
		}
	}
}

func (m *Manager) retryFailedWebhooksOnce() error {
	repo := repository.GetGlobalRepositories().WebhookEvent
	ids, err := repo.ListFailedRetryable(webhookRetryMaxAttempts, webhookRetryMinAge, webhookRetryBatchSize)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	log.Infof("[JobQueue Manager] Replaying %d failed webhook records", len(ids))
	svc := payments.NewServiceFromDB(database.GetDB(), NewDispatcher(m.queue), payments.NewSMTPNotifier())
	results := svc.ReplayMany(context.Background(), ids)
	for _, r := range results {
		if r.Err != nil {
			log.Warnf("[JobQueue Manager] Replay of webhook %d still failing: %v", r.EventID, r.Err)
		}
	}
	return nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
