package main

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"autoforge/internal/database"
	"autoforge/internal/dataset"
	"autoforge/internal/learning/automl"
	"autoforge/internal/learning/forecast"
	"autoforge/internal/logger"
	"autoforge/internal/service"
)

var (
	configPath string
	envFile    string

	target       string
	problemType  string
	timeColumn   string
	dropColumns  []string
	candidates   []string
	noTuning     bool
	ensembleWith string
	explainRow   int
	horizon      int
	runsLimit    int

	rootCmd = &cobra.Command{
		Use:           "autoforge",
		Short:         "Automated model selection, tuning and drift monitoring for tabular data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	trainCmd = &cobra.Command{
		Use:   "train [csv]",
		Short: "Detect the problem type, train every candidate and register the best model",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrain,
	}
	predictCmd = &cobra.Command{
		Use:   "predict [model_id] [csv]",
		Short: "Predict the rows of a CSV file with a registered model",
		Args:  cobra.ExactArgs(2),
		RunE:  runPredict,
	}
	explainCmd = &cobra.Command{
		Use:   "explain [model_id] [csv]",
		Short: "Attribute one row's prediction to its features",
		Args:  cobra.ExactArgs(2),
		RunE:  runExplain,
	}
	forecastCmd = &cobra.Command{
		Use:   "forecast [model_id]",
		Short: "Extend a registered time-series model",
		Args:  cobra.ExactArgs(1),
		RunE:  runForecast,
	}

	modelsCmd = &cobra.Command{
		Use:   "models",
		Short: "Manage registered models",
	}
	modelsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered models, newest first",
		Args:  cobra.NoArgs,
		RunE:  runModelsList,
	}
	modelsDeleteCmd = &cobra.Command{
		Use:   "delete [model_id]",
		Short: "Delete a model and both of its files",
		Args:  cobra.ExactArgs(1),
		RunE:  runModelsDelete,
	}

	driftCmd = &cobra.Command{
		Use:   "drift [model_id] [csv]",
		Short: "Compare production rows against a model's training reference",
		Args:  cobra.ExactArgs(2),
		RunE:  runDrift,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Manage the run-history schema",
	}
	migrateUpCmd = &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return withMigrator(migrateUp) },
	}
	migrateDownCmd = &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return withMigrator(migrateDown) },
	}
	migrateVersionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, args []string) error { return withMigrator(migrateVersion) },
	}
	migrateForceCmd = &cobra.Command{
		Use:   "force [version]",
		Short: "Set the migration version without running migrations, to repair a dirty state",
		Args:  cobra.ExactArgs(1),
		RunE:  runMigrateForce,
	}

	runsCmd = &cobra.Command{
		Use:   "runs [run_id]",
		Short: "List recent pipeline runs, or show one run with its candidates",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRuns,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "环境变量文件")

	trainCmd.Flags().StringVarP(&target, "target", "t", "", "target column; empty means clustering")
	trainCmd.Flags().StringVar(&problemType, "problem-type", "", "force classification, regression, clustering or time_series")
	trainCmd.Flags().StringVar(&timeColumn, "time-column", "", "time column of a series")
	trainCmd.Flags().StringSliceVar(&dropColumns, "drop", nil, "columns to ignore")
	trainCmd.Flags().StringSliceVar(&candidates, "candidates", nil, "train only these candidates")
	trainCmd.Flags().BoolVar(&noTuning, "no-tuning", false, "skip hyperparameter tuning")
	trainCmd.Flags().StringVar(&ensembleWith, "ensemble", "", "build an ensemble: auto, voting, stacking or blending")

	explainCmd.Flags().IntVar(&explainRow, "row", 0, "row of the csv to explain")
	forecastCmd.Flags().IntVar(&horizon, "horizon", 0, "steps to forecast; 0 uses the configured horizon")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to list")

	modelsCmd.AddCommand(modelsListCmd, modelsDeleteCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd, migrateForceCmd)
	rootCmd.AddCommand(trainCmd, predictCmd, explainCmd, forecastCmd, modelsCmd, driftCmd, migrateCmd, runsCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()
	a.serveMetrics(ctx)

	ds, err := loadDataset(args[0])
	if err != nil {
		return err
	}
	opts := service.TrainOptions{
		ProblemType: dataset.ProblemType(problemType),
		TimeColumn:  timeColumn,
		DropColumns: dropColumns,
		Candidates:  candidates,
	}
	if noTuning || ensembleWith != "" {
		pipeline := a.cfg.Pipeline
		if noTuning {
			pipeline.Tuning = false
		}
		if ensembleWith != "" {
			pipeline.Ensemble = true
			pipeline.EnsembleStrategy = ensembleWith
		}
		opts.Pipeline = &pipeline
	}

	resp, err := a.svc.Train(ctx, ds, target, opts)
	if resp != nil {
		if perr := printJSON(summarize(resp.Result)); perr != nil {
			return perr
		}
	}
	return err
}

func runPredict(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	records, err := loadRecords(args[1])
	if err != nil {
		return err
	}
	resp, err := a.svc.Predict(cmd.Context(), args[0], records)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runExplain(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	records, err := loadRecords(args[1])
	if err != nil {
		return err
	}
	if explainRow < 0 || explainRow >= len(records) {
		return fmt.Errorf("row %d out of range: file has %d rows", explainRow, len(records))
	}
	resp, err := a.svc.Explain(cmd.Context(), args[0], records[explainRow])
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runForecast(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	fc, err := a.svc.Forecast(cmd.Context(), args[0], horizon)
	if err != nil {
		return err
	}
	return printJSON(fc)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(a.svc.Models())
}

func runModelsDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.svc.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func runDrift(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	records, err := loadRecords(args[1])
	if err != nil {
		return err
	}
	report, err := a.svc.CheckDrift(cmd.Context(), args[0], records)
	if err != nil {
		return err
	}
	return printJSON(report)
}

// withMigrator opens the configured store without migrating it and runs fn
func withMigrator(fn func(m *database.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database, logger.Get())
	if err != nil {
		return err
	}
	defer db.Close()
	m, err := database.NewMigrator(db)
	if err != nil {
		return err
	}
	return fn(m)
}

func migrateUp(m *database.Migrator) error {
	if err := m.Up(); err != nil {
		return err
	}
	return migrateVersion(m)
}

func migrateDown(m *database.Migrator) error {
	if err := m.Down(); err != nil {
		return err
	}
	return migrateVersion(m)
}

func migrateVersion(m *database.Migrator) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	fmt.Printf("version %d (dirty: %t)\n", version, dirty)
	return nil
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q: %w", args[0], err)
	}
	return withMigrator(func(m *database.Migrator) error {
		if err := m.Force(v); err != nil {
			return err
		}
		return migrateVersion(m)
	})
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return fmt.Errorf("run history is disabled; set database.enabled or AUTOFORGE_DB_DSN")
	}
	db, err := openStore(cfg, logger.Get())
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	if len(args) == 1 {
		run, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(run)
	}
	runs, err := db.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	return printJSON(runs)
}

// runSummary 训练结果的可打印摘要, 非有限数值被省略
type runSummary struct {
	RunID           string             `json:"run_id"`
	Status          automl.Status      `json:"status"`
	ProblemType     string             `json:"problem_type,omitempty"`
	BestModel       string             `json:"best_model,omitempty"`
	ModelID         string             `json:"model_id,omitempty"`
	Metric          string             `json:"metric,omitempty"`
	Score           *float64           `json:"score,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Leaderboard     []boardEntry       `json:"leaderboard,omitempty"`
	Forecast        *forecast.Forecast `json:"forecast,omitempty"`
	Warnings        []string           `json:"warnings,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
	Error           string             `json:"error,omitempty"`
	Duration        string             `json:"duration"`
}

type boardEntry struct {
	Rank      int                `json:"rank,omitempty"`
	Candidate string             `json:"candidate"`
	Status    string             `json:"status"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	CVScore   *float64           `json:"cv_score,omitempty"`
	Overfit   bool               `json:"overfit,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func summarize(res *automl.Result) runSummary {
	s := runSummary{
		RunID:           res.RunID,
		Status:          res.Status,
		ProblemType:     string(res.ProblemType),
		BestModel:       res.BestModel,
		ModelID:         res.ModelID,
		Metric:          res.Metric,
		Score:           finitePtr(res.Score),
		Metrics:         finiteMap(res.Metrics),
		Warnings:        res.Warnings,
		Recommendations: res.Recommendations,
		Error:           res.Error,
		Duration:        res.Duration.Round(time.Millisecond).String(),
	}
	if res.Forecast != nil {
		s.Forecast = res.Forecast.Forecast
	}
	for _, c := range res.Leaderboard {
		e := boardEntry{Rank: c.Rank, Candidate: c.Candidate, Status: c.Status, Metrics: finiteMap(c.Metrics), Error: c.Error}
		if c.CV != nil {
			e.CVScore = finitePtr(c.CV.TestScore)
			e.Overfit = c.CV.Overfit
		}
		s.Leaderboard = append(s.Leaderboard, e)
	}
	return s
}

func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func finiteMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}
