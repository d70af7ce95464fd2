package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	apperrors "autoforge/internal/errors"
	"autoforge/internal/logger"
)

// CheckStatus represents the status of a scheduled drift check
type CheckStatus string

const (
	CheckStatusPending   CheckStatus = "pending"
	CheckStatusRunning   CheckStatus = "running"
	CheckStatusCompleted CheckStatus = "completed"
	CheckStatusFailed    CheckStatus = "failed"
)

// DriftChecker 执行一次针对某模型的漂移检查
type DriftChecker interface {
	CheckDrift(ctx context.Context, modelID string) (*DriftReport, error)
}

// DriftCheckerFunc adapts a function to DriftChecker
type DriftCheckerFunc func(ctx context.Context, modelID string) (*DriftReport, error)

// CheckDrift implements DriftChecker
func (f DriftCheckerFunc) CheckDrift(ctx context.Context, modelID string) (*DriftReport, error) {
	return f(ctx, modelID)
}

// Check 一个定时漂移检查任务
type Check struct {
	ID          string       `json:"id"`
	ModelID     string       `json:"model_id"`
	Schedule    string       `json:"schedule"`
	LastRunTime time.Time    `json:"last_run_time"`
	NextRunTime time.Time    `json:"next_run_time"`
	Status      CheckStatus  `json:"status"`
	Error       string       `json:"error,omitempty"`
	LastReport  *DriftReport `json:"last_report,omitempty"`

	entry cron.EntryID
}

// Scheduler 按 cron 表达式周期性运行漂移检查
type Scheduler struct {
	cron    *cron.Cron
	checker DriftChecker
	monitor *Monitor
	checks  map[string]*Check
	timeout time.Duration
	logger  logger.Logger
	mu      sync.RWMutex
}

// NewScheduler creates a scheduler; schedules use the six-field cron format with seconds
func NewScheduler(checker DriftChecker, monitor *Monitor, timeout time.Duration, log logger.Logger) *Scheduler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		checker: checker,
		monitor: monitor,
		checks:  make(map[string]*Check),
		timeout: timeout,
		logger:  logger.OrDefault(log),
	}
}

// AddCheck registers a periodic drift check for a model and returns its id
func (s *Scheduler) AddCheck(modelID, schedule string) (string, error) {
	check := &Check{
		ID:       uuid.NewString(),
		ModelID:  modelID,
		Schedule: schedule,
		Status:   CheckStatusPending,
	}
	entry, err := s.cron.AddFunc(schedule, func() {
		s.run(context.Background(), check)
	})
	if err != nil {
		return "", apperrors.NewAppErrorWithDetails(apperrors.ErrCodeConfigInvalid, "invalid drift schedule", schedule, err)
	}

	s.mu.Lock()
	check.entry = entry
	check.NextRunTime = s.cron.Entry(entry).Next
	s.checks[check.ID] = check
	s.mu.Unlock()

	s.logger.Info("drift check scheduled", "check_id", check.ID, "model_id", modelID, "schedule", schedule)
	return check.ID, nil
}

// RemoveCheck unregisters a check
func (s *Scheduler) RemoveCheck(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	check, ok := s.checks[id]
	if !ok {
		return fmt.Errorf("drift check not found: %s", id)
	}
	s.cron.Remove(check.entry)
	delete(s.checks, id)
	return nil
}

// RunNow runs a registered check immediately and waits for it
func (s *Scheduler) RunNow(ctx context.Context, id string) (*Check, error) {
	s.mu.RLock()
	check, ok := s.checks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("drift check not found: %s", id)
	}
	s.run(ctx, check)
	return s.GetCheck(id)
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running checks
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) run(ctx context.Context, check *Check) {
	s.mu.Lock()
	check.Status = CheckStatusRunning
	check.LastRunTime = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	report, err := s.checker.CheckDrift(ctx, check.ModelID)
	if err == nil && s.monitor != nil {
		report.ModelID = check.ModelID
		s.monitor.Observe(report)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	check.NextRunTime = s.cron.Entry(check.entry).Next
	if err != nil {
		check.Status = CheckStatusFailed
		check.Error = err.Error()
		s.logger.Error("drift check failed", "check_id", check.ID, "model_id", check.ModelID, "error", err)
		return
	}
	check.Status = CheckStatusCompleted
	check.Error = ""
	check.LastReport = report
	s.logger.Info("drift check completed", "check_id", check.ID, "model_id", check.ModelID,
		"alert", report.Alert, "drift_ratio", report.DriftRatio)
}

// GetCheck returns a snapshot of a check
func (s *Scheduler) GetCheck(id string) (*Check, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	check, ok := s.checks[id]
	if !ok {
		return nil, fmt.Errorf("drift check not found: %s", id)
	}
	c := *check
	return &c, nil
}

// ListChecks lists all checks
func (s *Scheduler) ListChecks() []*Check {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Check, 0, len(s.checks))
	for _, check := range s.checks {
		c := *check
		out = append(out, &c)
	}
	return out
}
