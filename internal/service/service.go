package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"autoforge/internal/cache"
	"autoforge/internal/config"
	"autoforge/internal/database"
	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/automl"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/explain"
	"autoforge/internal/learning/forecast"
	"autoforge/internal/learning/monitor"
	"autoforge/internal/logger"
	"autoforge/internal/monitoring"
	"autoforge/internal/registry"
)

const (
	// recentWindow 每个模型保留的最近预测行数, 供定时漂移检查使用
	recentWindow = 2000
	// minDriftRows 定时检查所需的最少行数
	minDriftRows   = 20
	forecastLevel  = 0.95
	checkTimeout   = 2 * time.Minute
	historyTimeout = 5 * time.Second
)

// Store 运行历史与漂移记录
type Store interface {
	automl.RunStore
	InsertDrift(ctx context.Context, rec *database.DriftRecord) error
}

// TrainOptions 训练请求选项
type TrainOptions struct {
	ProblemType dataset.ProblemType    `json:"problem_type,omitempty"`
	TimeColumn  string                 `json:"time_column,omitempty"`
	DropColumns []string               `json:"drop_columns,omitempty"`
	Candidates  []string               `json:"candidates,omitempty"`
	Pipeline    *config.PipelineConfig `json:"-"`
}

// TrainResponse 训练结果摘要
type TrainResponse struct {
	ModelID   string             `json:"model_id"`
	BestModel string             `json:"best_model"`
	Metrics   map[string]float64 `json:"metrics"`
	Result    *automl.Result     `json:"result"`
}

// PredictResponse 预测结果; 概率只对分类模型给出
type PredictResponse struct {
	ModelID       string               `json:"model_id"`
	Predictions   []interface{}        `json:"predictions"`
	Probabilities []map[string]float64 `json:"probabilities,omitempty"`
}

// ExplainResponse 单条记录的特征贡献
type ExplainResponse struct {
	ModelID       string                 `json:"model_id"`
	Prediction    interface{}            `json:"prediction"`
	Base          float64                `json:"base_value"`
	Output        float64                `json:"output"`
	Contributions []explain.Contribution `json:"contributions"`
}

// Service 训练/预测/解释/删除的服务边界
type Service struct {
	config    *config.Config
	engine    *automl.Engine
	registry  *registry.Registry
	monitor   *monitor.Monitor
	scheduler *monitor.Scheduler
	metrics   *monitoring.Metrics
	cache     *cache.ResultCache
	store     Store
	limiter   *rate.Limiter
	logger    logger.Logger

	mu     sync.Mutex
	recent map[string][][]float64
}

// Option 服务选项
type Option func(*Service)

// WithStore records runs and drift checks
func WithStore(s Store) Option {
	return func(svc *Service) { svc.store = s }
}

// WithMetrics exports pipeline, prediction and drift metrics
func WithMetrics(m *monitoring.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

// WithCache reuses cross-validation results between runs
func WithCache(c *cache.ResultCache) Option {
	return func(svc *Service) { svc.cache = c }
}

// New creates the service around a loaded registry
func New(cfg *config.Config, reg *registry.Registry, log logger.Logger, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Service{
		config:   cfg,
		registry: reg,
		logger:   logger.OrDefault(log).WithField("component", "service"),
		recent:   make(map[string][][]float64),
	}
	for _, opt := range opts {
		opt(s)
	}

	perSecond := float64(cfg.Service.TrainRatePerMinute) / 60
	s.limiter = rate.NewLimiter(rate.Limit(perSecond), cfg.Service.TrainBurst)

	engineOpts := []automl.Option{automl.WithRegistry(reg)}
	var monitorOpts []monitor.Option
	if s.metrics != nil {
		engineOpts = append(engineOpts, automl.WithMetrics(s.metrics))
		monitorOpts = append(monitorOpts, monitor.WithObserver(s.metrics))
		s.metrics.SetRegisteredModels(len(reg.List()))
	}
	if s.cache != nil {
		engineOpts = append(engineOpts, automl.WithCache(s.cache))
	}
	if s.store != nil {
		engineOpts = append(engineOpts, automl.WithStore(s.store))
	}
	s.engine = automl.NewEngine(cfg, log, engineOpts...)
	s.monitor = monitor.NewMonitor(monitor.Method(cfg.Monitor.DriftMethod), cfg.Thresholds, log, monitorOpts...)
	s.scheduler = monitor.NewScheduler(monitor.DriftCheckerFunc(s.checkRecent), s.monitor, checkTimeout, log)
	return s
}

// Engine returns the pipeline engine
func (s *Service) Engine() *automl.Engine { return s.engine }

// Train runs the pipeline on a dataset. Requests beyond the configured rate are rejected.
// The response is returned together with the error of a failed run.
func (s *Service) Train(ctx context.Context, ds *dataset.Dataset, target string, opts TrainOptions) (*TrainResponse, error) {
	if !s.limiter.Allow() {
		if s.metrics != nil {
			s.metrics.RecordThrottled()
		}
		s.logger.Warn("train request throttled", "target", target)
		return nil, apperrors.NewAppError(apperrors.ErrCodeRateLimited, "too many train requests", nil)
	}
	res, err := s.engine.Run(ctx, automl.Request{
		Dataset:     ds,
		Target:      target,
		ProblemType: opts.ProblemType,
		TimeColumn:  opts.TimeColumn,
		DropColumns: opts.DropColumns,
		Candidates:  opts.Candidates,
		Pipeline:    opts.Pipeline,
	})
	return &TrainResponse{
		ModelID:   res.ModelID,
		BestModel: res.BestModel,
		Metrics:   res.Metrics,
		Result:    res,
	}, err
}

// Predict encodes records with the stored transform and predicts them
func (s *Service) Predict(ctx context.Context, modelID string, records []dataset.Record) (*PredictResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkg, err := s.tabular(modelID)
	if err != nil {
		return nil, err
	}
	X, err := encode(pkg, records)
	if err != nil {
		return nil, err
	}
	pred, err := pkg.Model.Predict(X)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInternal, "prediction failed", err).WithContext("model_id", modelID)
	}

	resp := &PredictResponse{ModelID: modelID, Predictions: make([]interface{}, len(pred))}
	for i, p := range pred {
		resp.Predictions[i] = pkg.Transform.DecodeTarget(p)
	}
	if pm, ok := pkg.Model.(estimator.ProbabilisticModel); ok && pkg.ProblemType == dataset.Classification {
		proba, err := pm.PredictProba(X)
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrCodeInternal, "probability prediction failed", err).WithContext("model_id", modelID)
		}
		classes := pkg.Transform.Classes
		proba = estimator.PadProba(proba, len(classes))
		resp.Probabilities = make([]map[string]float64, len(proba))
		for i, row := range proba {
			m := make(map[string]float64, len(classes))
			for k, c := range classes {
				m[c] = row[k]
			}
			resp.Probabilities[i] = m
		}
	}

	s.remember(modelID, X)
	if s.metrics != nil {
		s.metrics.ObservePredictions(modelID, len(X))
	}
	s.logger.Debug("records predicted", "model_id", modelID, "rows", len(X))
	return resp, nil
}

// Forecast extends a stored time-series model by horizon steps
func (s *Service) Forecast(ctx context.Context, modelID string, horizon int) (*forecast.Forecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkg, _, err := s.registry.Get(modelID)
	if err != nil {
		return nil, err
	}
	if pkg.Series == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "model %s is not a time-series model", modelID)
	}
	if horizon <= 0 {
		horizon = s.config.Pipeline.ForecastHorizon
	}
	fc, err := forecast.Predict(pkg.Series, horizon, forecastLevel)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInternal, "forecast failed", err).WithContext("model_id", modelID)
	}
	if s.metrics != nil {
		s.metrics.ObservePredictions(modelID, horizon)
	}
	return fc, nil
}

// Explain attributes one prediction to the input features with sampled Shapley values
func (s *Service) Explain(ctx context.Context, modelID string, record dataset.Record) (*ExplainResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkg, err := s.tabular(modelID)
	if err != nil {
		return nil, err
	}
	X, err := encode(pkg, []dataset.Record{record})
	if err != nil {
		return nil, err
	}
	eng := explain.NewEngine(pkg.ProblemType, pkg.NClasses, s.config.Thresholds, s.config.Pipeline.RandomSeed, s.logger)
	local, err := eng.Local(pkg.Model, pkg.FeatureNames, pkg.Background, X[0])
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "local explanation failed")
	}
	resp := &ExplainResponse{
		ModelID:       modelID,
		Prediction:    pkg.Transform.DecodeTarget(local.Prediction),
		Base:          local.Base,
		Output:        local.Prediction,
		Contributions: local.Contributions,
	}
	if pkg.ProblemType == dataset.Classification {
		resp.Prediction = pkg.Transform.DecodeTarget(float64(local.Class))
	}
	return resp, nil
}

// Delete removes a model's files and every piece of state kept for it
func (s *Service) Delete(modelID string) error {
	if err := s.registry.Delete(modelID); err != nil {
		return err
	}
	for _, check := range s.scheduler.ListChecks() {
		if check.ModelID == modelID {
			if err := s.scheduler.RemoveCheck(check.ID); err != nil {
				s.logger.Warn("remove drift check failed", "check_id", check.ID, "error", err)
			}
		}
	}
	s.mu.Lock()
	delete(s.recent, modelID)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ForgetModel(modelID)
		s.metrics.SetRegisteredModels(len(s.registry.List()))
	}
	return nil
}

// Models lists registered models, newest first
func (s *Service) Models() []registry.Metadata {
	return s.registry.List()
}

// CheckDrift compares records against the model's training reference
func (s *Service) CheckDrift(ctx context.Context, modelID string, records []dataset.Record) (*monitor.DriftReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkg, err := s.tabular(modelID)
	if err != nil {
		return nil, err
	}
	X, err := encode(pkg, records)
	if err != nil {
		return nil, err
	}
	report, err := s.drift(ctx, modelID, pkg, X)
	if err != nil {
		return nil, err
	}
	s.monitor.Observe(report)
	return report, nil
}

// ScheduleDrift registers a periodic drift check over the model's recent predictions.
// An empty schedule uses the configured default.
func (s *Service) ScheduleDrift(modelID, schedule string) (string, error) {
	if _, ok := s.registry.Metadata(modelID); !ok {
		return "", apperrors.Newf(apperrors.ErrCodeModelNotFound, "model %s not found", modelID)
	}
	if schedule == "" {
		schedule = s.config.Monitor.Schedule
	}
	return s.scheduler.AddCheck(modelID, schedule)
}

// RunCheck runs a scheduled drift check immediately
func (s *Service) RunCheck(ctx context.Context, checkID string) (*monitor.Check, error) {
	return s.scheduler.RunNow(ctx, checkID)
}

// Checks lists scheduled drift checks
func (s *Service) Checks() []*monitor.Check {
	return s.scheduler.ListChecks()
}

// Start starts the drift scheduler
func (s *Service) Start() {
	s.scheduler.Start()
}

// Stop stops the drift scheduler and waits for running checks
func (s *Service) Stop() {
	s.scheduler.Stop()
}

// checkRecent is the scheduled check: it scans the window of recently predicted rows
func (s *Service) checkRecent(ctx context.Context, modelID string) (*monitor.DriftReport, error) {
	pkg, err := s.tabular(modelID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	X := append([][]float64(nil), s.recent[modelID]...)
	s.mu.Unlock()
	if len(X) < minDriftRows {
		return nil, apperrors.Newf(apperrors.ErrCodeInsufficientData, "model %s has %d recent rows, need %d", modelID, len(X), minDriftRows)
	}
	return s.drift(ctx, modelID, pkg, X)
}

func (s *Service) drift(ctx context.Context, modelID string, pkg *registry.Package, X [][]float64) (*monitor.DriftReport, error) {
	if len(pkg.Background) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "model %s has no reference sample", modelID)
	}
	report := s.monitor.FeatureDrift(pkg.FeatureNames, pkg.Background, X)
	report.ModelID = modelID

	if len(pkg.ReferencePredictions) > 0 {
		pred, err := pkg.Model.Predict(X)
		if err == nil {
			nClasses := 0
			if pkg.ProblemType == dataset.Classification {
				nClasses = pkg.NClasses
			}
			report.Prediction, err = s.monitor.PredictionDrift(pkg.ReferencePredictions, pred, nClasses)
		}
		if err != nil {
			report.Errors["prediction"] = err.Error()
			s.logger.Warn("prediction drift unavailable", "model_id", modelID, "error", err)
		}
	}
	s.record(ctx, report)
	return report, nil
}

func (s *Service) record(ctx context.Context, report *monitor.DriftReport) {
	if s.store == nil {
		return
	}
	rec := &database.DriftRecord{
		ModelID:    report.ModelID,
		Method:     string(report.Method),
		DriftRatio: report.DriftRatio,
		Alert:      report.Alert,
		Drifted:    report.Drifted,
		CheckedAt:  report.Timestamp,
	}
	if report.Prediction != nil {
		score := report.Prediction.Score
		rec.PredictionScore = &score
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyTimeout)
	defer cancel()
	if err := s.store.InsertDrift(ctx, rec); err != nil {
		s.logger.Warn("drift check not recorded", "model_id", report.ModelID, "error", err)
	}
}

// remember appends rows to the model's bounded window of recent inputs
func (s *Service) remember(modelID string, X [][]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := append(s.recent[modelID], X...)
	if len(window) > recentWindow {
		window = append([][]float64(nil), window[len(window)-recentWindow:]...)
	}
	s.recent[modelID] = window
}

// tabular loads a model that predicts from records
func (s *Service) tabular(modelID string) (*registry.Package, error) {
	pkg, _, err := s.registry.Get(modelID)
	if err != nil {
		return nil, err
	}
	if pkg.Model == nil || pkg.Transform == nil {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "model %s does not predict from records; use forecast", modelID)
	}
	return pkg, nil
}

func encode(pkg *registry.Package, records []dataset.Record) ([][]float64, error) {
	if len(records) == 0 {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation, "no records given")
	}
	ds, err := dataset.FromRecords(pkg.Transform.Inputs, records)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeValidation, "invalid records", err)
	}
	return pkg.Transform.Apply(ds)
}
