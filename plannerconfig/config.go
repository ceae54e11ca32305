// Package plannerconfig implements the §4.6 configuration model: a
// bounded, validated typed record for planner tuning, stepper tuning, and
// rig geometry, persisted to a key-value store keyed by short names.
package plannerconfig

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vplotter/motioncore/errs"
	"github.com/vplotter/motioncore/rig"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Planner holds the §3 PlannerConfig fields. YAML keys are kept to the
// ≤8 character budget named in §6's persisted-state note.
type Planner struct {
	JunctionDeviationMM float64 `yaml:"jd"`
	LookaheadSegments   int     `yaml:"look"`
	MinSegmentTimeMs    float64 `yaml:"minseg"`
	CornerSlowdown      float64 `yaml:"corslow"`
	MinCornerFactor     float64 `yaml:"mincorf"`
	MinSegmentLenMM     float64 `yaml:"minlen"`
	CollinearDeg        float64 `yaml:"colldeg"`
	BacklashXmm         float64 `yaml:"bklx"`
	BacklashYmm         float64 `yaml:"bkly"`
	SCurveFactor        float64 `yaml:"scurve"`
}

// Tuning holds the stepper-side tunables exposed by §6's
// setSpeeds/setMotionTuning/setPulseWidths/setEnablePins surface.
type Tuning struct {
	PrintSpeedSteps   float64 `yaml:"print"`
	MoveSpeedSteps    float64 `yaml:"move"`
	AccelStepsPerSec2 float64 `yaml:"accel"`
	PulseLeftUs       int     `yaml:"pulsel"`
	PulseRightUs      int     `yaml:"pulser"`
	EnablePinLeft     string  `yaml:"enl"`
	EnablePinRight    string  `yaml:"enr"`
}

// RigGeometry mirrors rig.Geometry in a YAML-tagged, ≤8-char-keyed shape
// suitable for persistence; ToGeometry/fromGeometry convert between them.
type RigGeometry struct {
	TopDistanceMM             float64 `yaml:"topd"`
	PulleyDiameterMM          float64 `yaml:"pdia"`
	PulleyToPenMM             float64 `yaml:"ppen"`
	CentreOfMassMM            float64 `yaml:"pcom"`
	MidPulleyToWallMM         float64 `yaml:"midwall"`
	SledMassKG                float64 `yaml:"mass"`
	GravityMPS2               float64 `yaml:"grav"`
	BeltElongationCoefficient float64 `yaml:"elong"`
	StepsPerRotation          float64 `yaml:"steps"`
	TravelPerRotationMM       float64 `yaml:"travel"`
	SafeXFraction             float64 `yaml:"safex"`
	SafeYFraction             float64 `yaml:"safey"`
	MinSafeXOffsetMM          float64 `yaml:"minx"`
	MinSafeYMM                float64 `yaml:"miny"`
}

// ToGeometry converts the persisted shape to rig.Geometry.
func (r RigGeometry) ToGeometry() rig.Geometry {
	return rig.Geometry{
		TopDistanceMM:             r.TopDistanceMM,
		PulleyDiameterMM:          r.PulleyDiameterMM,
		PulleyToPenMM:             r.PulleyToPenMM,
		CentreOfMassMM:            r.CentreOfMassMM,
		MidPulleyToWallMM:         r.MidPulleyToWallMM,
		SledMassKG:                r.SledMassKG,
		GravityMPS2:               r.GravityMPS2,
		BeltElongationCoefficient: r.BeltElongationCoefficient,
		StepsPerRotation:          r.StepsPerRotation,
		TravelPerRotationMM:       r.TravelPerRotationMM,
		SafeXFraction:             r.SafeXFraction,
		SafeYFraction:             r.SafeYFraction,
		MinSafeXOffsetMM:          r.MinSafeXOffsetMM,
		MinSafeYMM:                r.MinSafeYMM,
	}
}

func fromGeometry(g rig.Geometry) RigGeometry {
	return RigGeometry{
		TopDistanceMM:             g.TopDistanceMM,
		PulleyDiameterMM:          g.PulleyDiameterMM,
		PulleyToPenMM:             g.PulleyToPenMM,
		CentreOfMassMM:            g.CentreOfMassMM,
		MidPulleyToWallMM:         g.MidPulleyToWallMM,
		SledMassKG:                g.SledMassKG,
		GravityMPS2:               g.GravityMPS2,
		BeltElongationCoefficient: g.BeltElongationCoefficient,
		StepsPerRotation:          g.StepsPerRotation,
		TravelPerRotationMM:       g.TravelPerRotationMM,
		SafeXFraction:             g.SafeXFraction,
		SafeYFraction:             g.SafeYFraction,
		MinSafeXOffsetMM:          g.MinSafeXOffsetMM,
		MinSafeYMM:                g.MinSafeYMM,
	}
}

// Config is the full persisted record: planner tuning, stepper tuning,
// and rig geometry.
type Config struct {
	Planner Planner     `yaml:"planner"`
	Tuning  Tuning      `yaml:"tuning"`
	Rig     RigGeometry `yaml:"rig"`
}

// clampRange returns v clamped into [lo, hi].
func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate clamps every bounded Planner field into the ranges named in
// §3's PlannerConfig table. It returns errs.InvalidArgument for values
// with no sane clamp: a non-positive lookahead capacity, non-positive
// print/move speeds or acceleration, and whatever the rig geometry's own
// Validate rejects.
func (c *Config) Validate() error {
	p := &c.Planner
	if p.LookaheadSegments <= 0 {
		return errs.InvalidArgument("lookaheadSegments must be positive")
	}
	if p.LookaheadSegments > 128 {
		p.LookaheadSegments = 128
	}

	p.JunctionDeviationMM = clampRange(p.JunctionDeviationMM, 0.001, 2.0)
	p.MinSegmentTimeMs = clampRange(p.MinSegmentTimeMs, 0, 100)
	p.CornerSlowdown = clampRange(p.CornerSlowdown, 0.05, 1.0)
	p.MinCornerFactor = clampRange(p.MinCornerFactor, 0.05, 1.0)
	if p.MinSegmentLenMM < 0 {
		p.MinSegmentLenMM = 0
	}
	p.CollinearDeg = clampRange(p.CollinearDeg, 0.1, 20.0)
	if p.BacklashXmm < 0 {
		p.BacklashXmm = 0
	}
	if p.BacklashYmm < 0 {
		p.BacklashYmm = 0
	}
	p.SCurveFactor = clampRange(p.SCurveFactor, 0, 1)

	if c.Tuning.PrintSpeedSteps <= 0 || c.Tuning.MoveSpeedSteps <= 0 {
		return errs.InvalidArgument("print/move speeds must be positive")
	}
	if c.Tuning.AccelStepsPerSec2 <= 0 {
		return errs.InvalidArgument("acceleration must be positive")
	}

	return c.Rig.ToGeometry().Validate()
}

// Store persists a Config to a YAML file keyed by the short field names
// above; reads are always served from an in-memory cached copy (§4.6),
// writes go through Validate then persistence.
type Store struct {
	path   string
	cached *Config
}

// NewStore loads path (or embedded defaults, if path is empty or does
// not yet exist) into the in-memory cache.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cached: cfg}, nil
}

// Load reads a Config, starting from the embedded defaults and
// overlaying any fields present in the file at path. Unknown keys in the
// file are ignored (§6: "unknown keys default to the in-memory default").
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded planner defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, nil
			}
			return nil, errs.ResourceUnavailable("reading planner config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errs.BadFile("parsing planner config file", err)
		}
	}

	return cfg, nil
}

// Get returns the cached Config. Callers must not mutate the returned
// value in place; use Set to apply and persist a change.
func (s *Store) Get() Config {
	return *s.cached
}

// Set validates cfg, and if it passes, swaps it into the cache and
// persists it to disk.
func (s *Store) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cached = &cfg
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling planner config: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return errs.ResourceUnavailable("writing planner config file", err)
	}
	return nil
}

// SetRigGeometry is a narrow setter mirroring the calibration flow: the
// rig geometry is fixed at boot (§3 Lifecycle) but may be recalibrated
// through this one path, producing a new persisted Geometry.
func (s *Store) SetRigGeometry(g rig.Geometry) error {
	cfg := s.Get()
	cfg.Rig = fromGeometry(g)
	return s.Set(cfg)
}
