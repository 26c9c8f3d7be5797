// internal/scheduler/scheduler.go

// Package scheduler fires stored task prompts on their cron schedules,
// submitting each as a chat job through the relay.
package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/jobclaw/internal/state"
	"github.com/user/jobclaw/internal/types"
)

// Handler is the callback invoked when a scheduled task fires. It returns
// the job the prompt produced so the run can be recorded.
type Handler func(task *state.Task) (types.JobID, error)

// Scheduler evaluates cron expressions from the task store and fires tasks
// through a handler callback.
type Scheduler struct {
	store   *state.TaskStore
	handler Handler
	cron    *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a new Scheduler backed by the given task store. The handler is
// called each time a scheduled task fires.
func New(store *state.TaskStore, handler Handler) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start loads tasks from the store, registers enabled tasks that have a
// schedule as cron entries, and starts the cron ticker.
func (s *Scheduler) Start() error {
	tasks, err := s.store.List()
	if err != nil {
		return err
	}

	for _, task := range tasks {
		if task.Schedule == "" || !task.Enabled {
			continue
		}

		task := task
		_, err := s.cron.AddFunc(task.Schedule, func() {
			s.fire(task)
		})
		if err != nil {
			slog.Error("invalid cron schedule", "name", task.Name, "schedule", task.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled task", "name", task.Name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(task *state.Task) {
	slog.Info("cron firing task", "name", task.Name, "session_key", task.SessionKey)
	jobID, err := s.handler(task)
	if err != nil {
		slog.Error("task submit failed", "name", task.Name, "error", err)
		return
	}
	if err := s.store.RecordRun(task.Name, jobID, time.Now()); err != nil {
		slog.Warn("record task run failed", "name", task.Name, "error", err)
	}
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.cron.Stop()
	s.cron = cron.New(cron.WithParser(cronParser))
	return s.Start()
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
