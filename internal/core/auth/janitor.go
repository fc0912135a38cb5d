package auth

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often expired limiter windows and stale
// sessions are removed.
const DefaultSweepInterval = 5 * time.Minute

// SweepTask removes expired entries from one structure and reports how many
// it removed. Size, when set, reports what is left.
type SweepTask struct {
	Name  string
	Sweep func() int
	Size  func() int
}

// Janitor runs sweep tasks on a fixed interval. It lives for the process
// lifetime: Start once at startup, Close on shutdown.
type Janitor struct {
	interval time.Duration
	tasks    []SweepTask
	log      zerolog.Logger
	observe  func(task string, remaining int)

	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewJanitor builds a stopped janitor. observe may be nil.
func NewJanitor(interval time.Duration, log zerolog.Logger, observe func(task string, remaining int), tasks ...SweepTask) *Janitor {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Janitor{
		interval: interval,
		tasks:    tasks,
		log:      log,
		observe:  observe,
		stop:     make(chan struct{}),
	}
}

// Start launches the background loop.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		j.wg.Add(1)
		go j.loop()
	})
}

// RunOnce sweeps every task immediately.
func (j *Janitor) RunOnce() {
	for _, t := range j.tasks {
		removed := t.Sweep()
		if removed > 0 {
			j.log.Debug().Str("task", t.Name).Int("removed", removed).Msg("sweep completed")
		}
		if t.Size != nil && j.observe != nil {
			j.observe(t.Name, t.Size())
		}
	}
}

// Close stops the loop and waits for it to exit.
func (j *Janitor) Close() {
	j.closeOnce.Do(func() {
		close(j.stop)
	})
	j.wg.Wait()
}

func (j *Janitor) loop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.RunOnce()
		}
	}
}
