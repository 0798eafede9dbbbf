package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// TaskFunc — одна итерация периодической задачи.
type TaskFunc func(ctx context.Context) error

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	triggerCh chan struct{}

	running   atomic.Bool
	runs      atomic.Int64
	skips     atomic.Int64
	errs      atomic.Int64
	lastRun   atomic.Int64
	lastErrMu sync.Mutex
	lastErr   string
}

// Scheduler гоняет независимые периодические задачи. Тик задачи, чей
// предыдущий запуск ещё не закончился, пропускается, а не ставится в
// очередь: при медленном внешнем сервисе очередь росла бы без предела.
// Паника или ошибка одной задачи не останавливает остальные.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*task
	wg    sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{}
}

func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if interval <= 0 {
		return errors.Errorf("task %q: interval must be positive", name)
	}
	if fn == nil {
		return errors.Errorf("task %q: fn is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.name == name {
			return errors.Errorf("task %q already registered", name)
		}
	}
	s.tasks = append(s.tasks, &task{
		name:      name,
		interval:  interval,
		fn:        fn,
		triggerCh: make(chan struct{}, 1),
	})
	return nil
}

// Run блокируется до отмены ctx. Завершение кооперативное: сигнал
// проверяется между итерациями, начатая итерация дорабатывает до конца.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		s.wg.Add(1)
		go func(t *task) {
			defer s.wg.Done()
			s.loop(ctx, t)
		}(t)
	}

	<-ctx.Done()
	s.wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, t *task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	slog.Info("task loop started", "task", t.name, "interval", t.interval.String())
	for {
		select {
		case <-ctx.Done():
			slog.Info("task loop stopped", "task", t.name)
			return
		case <-ticker.C:
			s.runOnce(ctx, t)
		case <-t.triggerCh:
			s.runOnce(ctx, t)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t *task) {
	// Взаимное исключение в рамках одной задачи: тик при живом
	// предыдущем запуске пропускаем. Сама итерация работает в отдельной
	// горутине, иначе цикл застрял бы на ней и опоздавшие тики копились
	// бы в тикере вместо того, чтобы считаться пропусками.
	if !t.running.CompareAndSwap(false, true) {
		t.skips.Add(1)
		slog.Warn("task still running, tick skipped", "task", t.name)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer t.running.Store(false)

		t.lastRun.Store(time.Now().UTC().UnixNano())
		t.runs.Add(1)

		defer func() {
			if r := recover(); r != nil {
				t.errs.Add(1)
				t.lastErrMu.Lock()
				t.lastErr = errors.Errorf("panic: %v", r).Error()
				t.lastErrMu.Unlock()
				slog.Error("task panicked", "task", t.name, "panic", r)
			}
		}()

		if err := t.fn(ctx); err != nil {
			t.errs.Add(1)
			t.lastErrMu.Lock()
			t.lastErr = err.Error()
			t.lastErrMu.Unlock()
			slog.Error("task failed", "task", t.name, "error", err.Error())
		}
	}()
}

// Trigger просит немедленный запуск задачи (best-effort, не блокирует).
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.name != name {
			continue
		}
		select {
		case t.triggerCh <- struct{}{}:
		default:
		}
		return true
	}
	return false
}

type TaskStats struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	Running   bool       `json:"running"`
	Runs      int64      `json:"runs"`
	Skips     int64      `json:"skips"`
	Errors    int64      `json:"errors"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

func (s *Scheduler) Stats() []TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		st := TaskStats{
			Name:     t.name,
			Interval: t.interval.String(),
			Running:  t.running.Load(),
			Runs:     t.runs.Load(),
			Skips:    t.skips.Load(),
			Errors:   t.errs.Load(),
		}
		if n := t.lastRun.Load(); n > 0 {
			ts := time.Unix(0, n).UTC()
			st.LastRunAt = &ts
		}
		t.lastErrMu.Lock()
		st.LastError = t.lastErr
		t.lastErrMu.Unlock()
		out = append(out, st)
	}
	return out
}
