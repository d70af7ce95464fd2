package registry

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"autoforge/internal/dataset"
	apperrors "autoforge/internal/errors"
	"autoforge/internal/learning/estimator"
	"autoforge/internal/learning/forecast"
	"autoforge/internal/learning/preprocess"
	"autoforge/internal/logger"
)

const (
	packageExt     = ".bin"
	metadataSuffix = "_metadata.json"
	tmpSuffix      = ".tmp"
	timestampFmt   = "20060102_150405"
)

// Package 一个已训练模型的完整可预测包: 估计器 + 预处理描述 + 特征名 + 目标列
type Package struct {
	Model        estimator.Model
	Series       forecast.Model
	Transform    *preprocess.Transform
	FeatureNames []string
	TargetColumn string
	TimeColumn   string
	ProblemType  dataset.ProblemType
	NClasses     int
	// Background 训练特征的抽样, 用于漂移参考和局部解释
	Background           [][]float64
	ReferencePredictions []float64
	Metrics              map[string]float64
	RunID                string
	CreatedAt            time.Time
}

// Metadata 与包文件并列保存的 JSON 描述
type Metadata struct {
	ID           string              `json:"model_id"`
	ModelName    string              `json:"model_name"`
	ProblemType  dataset.ProblemType `json:"problem_type"`
	TargetColumn string              `json:"target_column"`
	NFeatures    int                 `json:"n_features"`
	FeatureNames []string            `json:"feature_names"`
	Timestamp    string              `json:"timestamp"`
	ModelFile    string              `json:"model_file"`
	Metrics      map[string]float64  `json:"metrics,omitempty"`
	RunID        string              `json:"run_id,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Registry 模型注册表. 启动时从目录加载索引, 保存为原子写, 删除同时移除两个文件
type Registry struct {
	dir      string
	mu       sync.RWMutex
	index    map[string]Metadata
	packages map[string]*Package
	now      func() time.Time
	logger   logger.Logger
}

// New opens (creating if needed) a registry directory and loads its index
func New(dir string, log logger.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodePersistence, "create registry directory", err)
	}
	r := &Registry{
		dir:      dir,
		index:    make(map[string]Metadata),
		packages: make(map[string]*Package),
		now:      time.Now,
		logger:   logger.OrDefault(log),
	}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the registry directory
func (r *Registry) Dir() string { return r.dir }

// Load rebuilds the index from the metadata files on disk. Temp files and entries
// whose package file is missing are skipped.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrCodePersistence, "read registry directory", err)
	}
	index := make(map[string]Metadata)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, tmpSuffix) || !strings.HasSuffix(name, metadataSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			r.logger.Warn("skipping unreadable model metadata", "file", name, "error", err)
			continue
		}
		var md Metadata
		if err := json.Unmarshal(raw, &md); err != nil {
			r.logger.Warn("skipping malformed model metadata", "file", name, "error", err)
			continue
		}
		if md.ID == "" {
			md.ID = strings.TrimSuffix(name, metadataSuffix)
		}
		if _, err := os.Stat(filepath.Join(r.dir, md.ModelFile)); err != nil {
			r.logger.Warn("skipping model without package file", "model_id", md.ID, "model_file", md.ModelFile)
			continue
		}
		index[md.ID] = md
	}

	r.mu.Lock()
	r.index = index
	r.packages = make(map[string]*Package)
	r.mu.Unlock()
	r.logger.Info("model registry loaded", "dir", r.dir, "models", len(index))
	return nil
}

// Save writes the package and its metadata and returns the metadata.
// Both files are written to temp files and renamed into place.
func (r *Registry) Save(candidate string, pkg *Package) (Metadata, error) {
	if pkg == nil || (pkg.Model == nil && pkg.Series == nil) {
		return Metadata{}, apperrors.Newf(apperrors.ErrCodePersistence, "package has no model")
	}
	created := r.now().UTC()
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = created
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ts := created.Format(timestampFmt)
	id := fmt.Sprintf("%s_%s_%s", candidate, pkg.ProblemType, ts)
	for n := 2; r.exists(id); n++ {
		id = fmt.Sprintf("%s_%s_%s_%d", candidate, pkg.ProblemType, ts, n)
	}
	md := Metadata{
		ID:           id,
		ModelName:    candidate,
		ProblemType:  pkg.ProblemType,
		TargetColumn: pkg.TargetColumn,
		NFeatures:    len(pkg.FeatureNames),
		FeatureNames: pkg.FeatureNames,
		Timestamp:    ts,
		ModelFile:    id + packageExt,
		Metrics:      finite(pkg.Metrics),
		RunID:        pkg.RunID,
		CreatedAt:    created,
	}

	if err := r.writeAtomic(md.ModelFile, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(pkg)
	}); err != nil {
		return Metadata{}, apperrors.NewAppErrorWithDetails(apperrors.ErrCodePersistence, "write model package", md.ModelFile, err)
	}
	if err := r.writeAtomic(id+metadataSuffix, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(md)
	}); err != nil {
		os.Remove(filepath.Join(r.dir, md.ModelFile))
		return Metadata{}, apperrors.NewAppErrorWithDetails(apperrors.ErrCodePersistence, "write model metadata", id, err)
	}

	r.index[id] = md
	r.packages[id] = pkg
	r.logger.Info("model saved", "model_id", id, "model_file", md.ModelFile)
	return md, nil
}

func (r *Registry) exists(id string) bool {
	if _, ok := r.index[id]; ok {
		return true
	}
	_, err := os.Stat(filepath.Join(r.dir, id+packageExt))
	return err == nil
}

func (r *Registry) writeAtomic(name string, write func(f *os.File) error) error {
	tmp, err := os.CreateTemp(r.dir, "."+name+"-*"+tmpSuffix)
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(r.dir, name))
}

// Get returns the package and metadata of a model, decoding it from disk on first use
func (r *Registry) Get(id string) (*Package, Metadata, error) {
	r.mu.RLock()
	md, ok := r.index[id]
	pkg := r.packages[id]
	r.mu.RUnlock()
	if !ok {
		return nil, Metadata{}, apperrors.Newf(apperrors.ErrCodeModelNotFound, "model %s not found", id)
	}
	if pkg != nil {
		return pkg, md, nil
	}

	f, err := os.Open(filepath.Join(r.dir, md.ModelFile))
	if err != nil {
		return nil, md, apperrors.NewAppErrorWithDetails(apperrors.ErrCodePersistence, "open model package", md.ModelFile, err)
	}
	defer f.Close()
	var decoded Package
	if err := gob.NewDecoder(f).Decode(&decoded); err != nil {
		return nil, md, apperrors.NewAppErrorWithDetails(apperrors.ErrCodePersistence, "decode model package", md.ModelFile, err)
	}

	r.mu.Lock()
	if cached, ok := r.packages[id]; ok {
		r.mu.Unlock()
		return cached, md, nil
	}
	r.packages[id] = &decoded
	r.mu.Unlock()
	return &decoded, md, nil
}

// Metadata returns the metadata of one model
func (r *Registry) Metadata(id string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	md, ok := r.index[id]
	return md, ok
}

// List returns every model's metadata, newest first
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	out := make([]Metadata, 0, len(r.index))
	for _, md := range r.index {
		out = append(out, md)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Delete removes both files of a model and evicts it from memory
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	md, ok := r.index[id]
	if !ok {
		return apperrors.Newf(apperrors.ErrCodeModelNotFound, "model %s not found", id)
	}
	for _, name := range []string{md.ModelFile, id + metadataSuffix} {
		if err := os.Remove(filepath.Join(r.dir, name)); err != nil && !os.IsNotExist(err) {
			return apperrors.NewAppErrorWithDetails(apperrors.ErrCodePersistence, "delete model file", name, err)
		}
	}
	delete(r.index, id)
	delete(r.packages, id)
	r.logger.Info("model deleted", "model_id", id)
	return nil
}

func finite(m map[string]float64) map[string]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}
