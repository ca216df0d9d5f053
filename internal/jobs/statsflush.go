package jobs

import (
	"log"
	"sync"
	"time"

	"github.com/darkwinzo/queen-mini-go/internal/services"
)

// StatsFlushJob periodically persists bot statistics and retries state
// writes that failed earlier, so durable state never lags memory for long.
type StatsFlushJob struct {
	stats    *services.Stats
	manager  *services.BotManager
	interval time.Duration

	mu        sync.Mutex
	isRunning bool
	stop      chan struct{}
}

// NewStatsFlushJob creates the flush job
func NewStatsFlushJob(stats *services.Stats, manager *services.BotManager) *StatsFlushJob {
	return &StatsFlushJob{
		stats:    stats,
		manager:  manager,
		interval: 30 * time.Second,
		stop:     make(chan struct{}),
	}
}

// Start begins the periodic flush loop
func (j *StatsFlushJob) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.isRunning {
		log.Println("Stats flush job already running")
		return
	}
	j.isRunning = true
	log.Println("Starting stats flush job...")

	go j.run()
}

// Stop halts the flush loop after one final flush
func (j *StatsFlushJob) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.isRunning {
		return
	}
	j.isRunning = false
	close(j.stop)
	log.Println("Stopping stats flush job...")
}

func (j *StatsFlushJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.stats.FlushAll()
			j.manager.FlushDirty()
		case <-j.stop:
			j.stats.FlushAll()
			return
		}
	}
}
