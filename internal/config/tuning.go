package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/otyagi/GNNTrackFinder-gpu-sub019/internal/tracking/pipeline"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for the triplet finder:
// engine settings shared by every iteration, the target position and the
// ordered list of tracking iterations.
type TuningConfig struct {
	Engine     *EngineConfig     `json:"engine,omitempty"`
	Target     *TargetConfig     `json:"target,omitempty"`
	Iterations []IterationConfig `json:"iterations,omitempty"`
}

// EngineConfig controls execution of the pipeline.
type EngineConfig struct {
	// Workers is the pool size. 0 means GOMAXPROCS, 1 runs sequentially.
	Workers                *int  `json:"workers,omitempty"`
	ChunkSize              *int  `json:"chunk_size,omitempty"`
	SortTriplets           *bool `json:"sort_triplets,omitempty"`
	MaxDoubletsFromHit     *int  `json:"max_doublets_from_hit,omitempty"`
	MaxTripletsFromDoublet *int  `json:"max_triplets_from_doublet,omitempty"`
}

// TargetConfig is the nominal target position in cm.
type TargetConfig struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
	Z *float64 `json:"z,omitempty"`
}

// IterationConfig is the tunable part of one tracking iteration. Fields
// left out fall back to the first-iteration defaults.
type IterationConfig struct {
	Name string `json:"name"`

	DoubletChi2Cut      *float64 `json:"doublet_chi2_cut,omitempty"`
	TripletChi2Cut      *float64 `json:"triplet_chi2_cut,omitempty"`
	TripletFinalChi2Cut *float64 `json:"triplet_final_chi2_cut,omitempty"`

	MaxQp      *float64 `json:"max_qp,omitempty"`
	MaxSlopePV *float64 `json:"max_slope_pv,omitempty"`
	MaxSlope   *float64 `json:"max_slope,omitempty"`
	MaxDZ      *float64 `json:"max_dz,omitempty"`

	TargetPosSigmaX *float64 `json:"target_pos_sigma_x,omitempty"`
	TargetPosSigmaY *float64 `json:"target_pos_sigma_y,omitempty"`

	Primary  *bool `json:"primary,omitempty"`
	Electron *bool `json:"electron,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,             // from cmd/
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/tracking/pipeline/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if e := c.Engine; e != nil {
		for name, v := range map[string]*int{
			"workers":                   e.Workers,
			"chunk_size":                e.ChunkSize,
			"max_doublets_from_hit":     e.MaxDoubletsFromHit,
			"max_triplets_from_doublet": e.MaxTripletsFromDoublet,
		} {
			if v != nil && *v < 0 {
				return fmt.Errorf("%s must be non-negative, got %d", name, *v)
			}
		}
	}

	seen := make(map[string]bool, len(c.Iterations))
	for i := range c.Iterations {
		it := &c.Iterations[i]
		if it.Name == "" {
			return fmt.Errorf("iteration %d has no name", i)
		}
		if seen[it.Name] {
			return fmt.Errorf("duplicate iteration name %q", it.Name)
		}
		seen[it.Name] = true
		if err := it.Validate(); err != nil {
			return fmt.Errorf("iteration %q: %w", it.Name, err)
		}
	}
	return nil
}

// Validate checks that the set values of one iteration are usable.
func (it *IterationConfig) Validate() error {
	for name, v := range map[string]*float64{
		"doublet_chi2_cut":       it.DoubletChi2Cut,
		"triplet_chi2_cut":       it.TripletChi2Cut,
		"triplet_final_chi2_cut": it.TripletFinalChi2Cut,
		"max_qp":                 it.MaxQp,
		"max_slope_pv":           it.MaxSlopePV,
		"max_slope":              it.MaxSlope,
		"target_pos_sigma_x":     it.TargetPosSigmaX,
		"target_pos_sigma_y":     it.TargetPosSigmaY,
	} {
		if v != nil && !(*v > 0) {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}
	if it.MaxDZ != nil && *it.MaxDZ < 0 {
		return fmt.Errorf("max_dz must be non-negative, got %f", *it.MaxDZ)
	}
	return nil
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Engine == nil || c.Engine.Workers == nil {
		return 0 // default: GOMAXPROCS
	}
	return *c.Engine.Workers
}

// GetChunkSize returns the chunk_size value or the default.
func (c *TuningConfig) GetChunkSize() int {
	if c.Engine == nil || c.Engine.ChunkSize == nil {
		return 256
	}
	return *c.Engine.ChunkSize
}

// GetSortTriplets returns the sort_triplets value or the default.
func (c *TuningConfig) GetSortTriplets() bool {
	if c.Engine == nil || c.Engine.SortTriplets == nil {
		return true
	}
	return *c.Engine.SortTriplets
}

// GetMaxDoubletsFromHit returns the max_doublets_from_hit value or the default.
func (c *TuningConfig) GetMaxDoubletsFromHit() int {
	if c.Engine == nil || c.Engine.MaxDoubletsFromHit == nil {
		return pipeline.DefaultMaxDoubletsFromHit
	}
	return *c.Engine.MaxDoubletsFromHit
}

// GetMaxTripletsFromDoublet returns the max_triplets_from_doublet value or the default.
func (c *TuningConfig) GetMaxTripletsFromDoublet() int {
	if c.Engine == nil || c.Engine.MaxTripletsFromDoublet == nil {
		return pipeline.DefaultMaxTripletsFromDoublet
	}
	return *c.Engine.MaxTripletsFromDoublet
}

// GetTarget returns the target position or the origin.
func (c *TuningConfig) GetTarget() (x, y, z float64) {
	if c.Target == nil {
		return 0, 0, 0
	}
	if c.Target.X != nil {
		x = *c.Target.X
	}
	if c.Target.Y != nil {
		y = *c.Target.Y
	}
	if c.Target.Z != nil {
		z = *c.Target.Z
	}
	return x, y, z
}

// GetIterations returns the configured iterations, or a single default
// primary iteration when none are configured.
func (c *TuningConfig) GetIterations() []IterationConfig {
	if len(c.Iterations) == 0 {
		return []IterationConfig{{Name: "FastPrim"}}
	}
	return c.Iterations
}

// PipelineConfig converts the engine section into orchestrator settings.
// A single worker selects the sequential executor.
func (c *TuningConfig) PipelineConfig() pipeline.Config {
	var ex pipeline.Executor = pipeline.PoolExecutor{Workers: c.GetWorkers(), ChunkSize: c.GetChunkSize()}
	if c.GetWorkers() == 1 {
		ex = pipeline.SequentialExecutor{}
	}
	return pipeline.Config{
		Executor:               ex,
		MaxDoubletsFromHit:     c.GetMaxDoubletsFromHit(),
		MaxTripletsFromDoublet: c.GetMaxTripletsFromDoublet(),
		SortTriplets:           c.GetSortTriplets(),
	}
}

// BuildIterations converts every configured iteration for setup and
// validates the result.
func (c *TuningConfig) BuildIterations(setup *pipeline.Setup) ([]pipeline.IterationParameters, error) {
	x, y, z := c.GetTarget()
	iters := c.GetIterations()
	out := make([]pipeline.IterationParameters, len(iters))
	for i := range iters {
		out[i] = BuildIterationParameters(&iters[i], setup, x, y, z)
		if err := out[i].Validate(setup); err != nil {
			return nil, fmt.Errorf("failed to build iteration %q: %w", iters[i].Name, err)
		}
	}
	return out, nil
}

// BuildIterationParameters fills a pipeline iteration from it, taking
// pipeline defaults for unset fields. The particle mass, target field and
// target measurement are derived from setup and the target position.
func BuildIterationParameters(it *IterationConfig, setup *pipeline.Setup, x, y, z float64) pipeline.IterationParameters {
	p := pipeline.IterationParameters{
		Name:                it.Name,
		DoubletChi2Cut:      getFloat(it.DoubletChi2Cut, pipeline.DefaultDoubletChi2Cut),
		TripletChi2Cut:      getFloat(it.TripletChi2Cut, pipeline.DefaultTripletChi2Cut),
		TripletFinalChi2Cut: getFloat(it.TripletFinalChi2Cut, pipeline.DefaultTripletChi2Cut),
		MaxQp:               getFloat(it.MaxQp, pipeline.DefaultMaxQp),
		MaxSlopePV:          getFloat(it.MaxSlopePV, pipeline.DefaultMaxSlopePV),
		MaxSlope:            getFloat(it.MaxSlope, pipeline.DefaultMaxSlope),
		MaxDZ:               getFloat(it.MaxDZ, 0),
		Primary:             getBool(it.Primary, true),
		Electron:            getBool(it.Electron, false),
	}
	p.SetTarget(setup, x, y, z,
		getFloat(it.TargetPosSigmaX, pipeline.DefaultTargetPosSigmaXY),
		getFloat(it.TargetPosSigmaY, pipeline.DefaultTargetPosSigmaXY))
	return p
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
