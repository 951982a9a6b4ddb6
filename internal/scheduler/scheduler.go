// Package scheduler provides a single timeline of named one-shot jobs for
// the auction worker. Jobs run sequentially on the scheduler's own
// goroutine; a missed fire time (process paused past run_at) makes the job
// run immediately, without catch-up duplication.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type job struct {
	id    string
	name  string
	runAt time.Time
	fn    func()
}

// Scheduler is a time-ordered set of named one-shot jobs.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*job
	wake    chan struct{}
	quit    chan struct{}
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a stopped scheduler; call Start before adding time-critical
// jobs.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make(map[string]*job),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

// AddJob schedules fn to run at runAt. Re-adding an existing id replaces the
// pending job.
func (s *Scheduler) AddJob(id, name string, runAt time.Time, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if _, ok := s.jobs[id]; ok {
		s.logger.Debug("replacing scheduled job", zap.String("job_id", id))
	}
	s.jobs[id] = &job{id: id, name: name, runAt: runAt, fn: fn}
	s.mu.Unlock()

	s.logger.Info("job scheduled",
		zap.String("job_id", id),
		zap.String("job_name", name),
		zap.Time("run_at", runAt))
	s.poke()
}

// RemoveAllJobs cancels every pending job. A job already running completes.
func (s *Scheduler) RemoveAllJobs() {
	s.mu.Lock()
	n := len(s.jobs)
	s.jobs = make(map[string]*job)
	s.mu.Unlock()

	if n > 0 {
		s.logger.Info("pending jobs removed", zap.Int("count", n))
	}
	s.poke()
}

// Start launches the run loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
}

// Shutdown drops pending jobs and stops the run loop. It does not wait for
// a job that is mid-execution.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.jobs = make(map[string]*job)
	started := s.started
	s.mu.Unlock()

	close(s.quit)
	if started {
		s.wg.Wait()
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		next, ok := s.nextRunAt()
		if ok {
			wait := time.Until(next)
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		}

		select {
		case <-s.quit:
			return
		case <-s.wake:
			if ok && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
			s.runDue(time.Now())
		}
	}
}

func (s *Scheduler) nextRunAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	found := false
	for _, j := range s.jobs {
		if !found || j.runAt.Before(next) {
			next = j.runAt
			found = true
		}
	}
	return next, found
}

func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	var due []*job
	for id, j := range s.jobs {
		if !j.runAt.After(now) {
			due = append(due, j)
			delete(s.jobs, id)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].runAt.Before(due[j].runAt) })
	for _, j := range due {
		s.execute(j)
	}
}

// execute runs one job; no error crosses the job boundary.
func (s *Scheduler) execute(j *job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked",
				zap.String("job_id", j.id),
				zap.String("job_name", j.name),
				zap.Any("panic", r))
		}
	}()
	s.logger.Info("running job",
		zap.String("job_id", j.id),
		zap.String("job_name", j.name))
	j.fn()
}
