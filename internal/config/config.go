package config

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/golang/geo/r2"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/obstacle"
	"github.com/cjeanneret/ptfmove/internal/logic/planner"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// AxisConfig describes one motor axis: how physical units map to counts
// and which pins drive it. Pins are BCM numbers; 0 = not used.
type AxisConfig struct {
	Scale        float64 `yaml:"scale"`         // counts per metre (x, y, z) or per degree (rotation, tilt)
	Origin       int     `yaml:"origin"`        // counts at the physical zero
	StepPin      int     `yaml:"step_pin"`
	DirPin       int     `yaml:"dir_pin"`
	EnablePin    int     `yaml:"enable_pin"`    // driver ENABLE, active LOW
	LimitPin     int     `yaml:"limit_pin"`     // limit switch, active HIGH
	LimitForward bool    `yaml:"limit_forward"` // switch ends forward travel; false = reverse
}

// AxesConfig groups the five axes of a gantry.
type AxesConfig struct {
	X        AxisConfig `yaml:"x"`
	Y        AxisConfig `yaml:"y"`
	Z        AxisConfig `yaml:"z"`
	Rotation AxisConfig `yaml:"rotation"`
	Tilt     AxisConfig `yaml:"tilt"`
}

// List returns the axes in X, Y, Z, rotation, tilt order.
func (a AxesConfig) List() [5]AxisConfig {
	return [5]AxisConfig{a.X, a.Y, a.Z, a.Rotation, a.Tilt}
}

// TravelConfig bounds the horizontal range of a gantry (metres).
type TravelConfig struct {
	XMin float64 `yaml:"x_min"`
	XMax float64 `yaml:"x_max"`
	YMin float64 `yaml:"y_min"`
	YMax float64 `yaml:"y_max"`
}

// GantryConfig holds everything specific to one gantry.
type GantryConfig struct {
	Home       geometry.AxisPose   `yaml:"home"`
	Travel     TravelConfig        `yaml:"travel"`
	Dimensions geometry.Dimensions `yaml:"dimensions"`
	Axes       AxesConfig          `yaml:"axes"`
}

// LimitsConfig holds joint limits shared by both gantries.
type LimitsConfig struct {
	RotationMinDeg float64 `yaml:"rotation_min_deg"`
	RotationMaxDeg float64 `yaml:"rotation_max_deg"`
	TiltMinDeg     float64 `yaml:"tilt_min_deg"`
	TiltMaxDeg     float64 `yaml:"tilt_max_deg"`
	ZMin           float64 `yaml:"z_min"`
	ZMax           float64 `yaml:"z_max"`
	BeamMargin     float64 `yaml:"beam_margin"` // minimum gantry1.x - gantry0.x
}

// TankConfig describes the tank wall and the holder ring (metres).
type TankConfig struct {
	CenterX      float64 `yaml:"center_x"`
	CenterY      float64 `yaml:"center_y"`
	Radius       float64 `yaml:"radius"`
	HolderRadius float64 `yaml:"holder_radius"`
	HolderDepth  float64 `yaml:"holder_depth"`
	RimDepth     float64 `yaml:"rim_depth"`
}

// PMTConfig describes the photosensor under test (metres).
type PMTConfig struct {
	CenterX         float64 `yaml:"center_x"`
	CenterY         float64 `yaml:"center_y"`
	TopDepth        float64 `yaml:"top_depth"`
	Radius          float64 `yaml:"radius"`
	RimDepthFromTop float64 `yaml:"rim_depth_from_top"`
	RimRadius       float64 `yaml:"rim_radius"`
	LayerThickness  float64 `yaml:"layer_thickness"`
	Sides           int     `yaml:"sides"`
	Epsilon         float64 `yaml:"epsilon"`
}

// PlannerConfig tunes collision sampling.
type PlannerConfig struct {
	SegmentStep       float64 `yaml:"segment_step"`        // metres between translation samples
	AngleIncrementDeg float64 `yaml:"angle_increment_deg"` // degrees between sweep samples
}

// TriggerConfig describes the digitizer readout trigger line.
type TriggerConfig struct {
	Pin      int `yaml:"pin"`       // BCM pin, 0 = no trigger
	PulseMs  int `yaml:"pulse_ms"`  // pulse width (ms)
	SettleMs int `yaml:"settle_ms"` // wait after a move before triggering (ms)
}

// DefaultsConfig contains generic parameters (speed, logging, storage).
type DefaultsConfig struct {
	StepDelayUs int    `yaml:"step_delay_us"` // delay between motor steps (µs)
	DebugLevel  int    `yaml:"debug_level"`   // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO    bool   `yaml:"mock_gpio"`     // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	LogFile     string `yaml:"log_file"`      // optional rotating log file
	JournalPath string `yaml:"journal_path"`  // SQLite plan journal, empty = disabled
}

// Config aggregates all application configuration.
type Config struct {
	Gantry0  GantryConfig   `yaml:"gantry0"`
	Gantry1  GantryConfig   `yaml:"gantry1"`
	Limits   LimitsConfig   `yaml:"limits"`
	Tank     TankConfig     `yaml:"tank"`
	PMT      PMTConfig      `yaml:"pmt"`
	Planner  PlannerConfig  `yaml:"planner"`
	Trigger  TriggerConfig  `yaml:"trigger"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath rejects paths that escape the working tree, are not
// .yaml files or do not live in a configs/ directory.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	if slices.Contains(strings.Split(filepath.ToSlash(clean), "/"), "..") {
		return fmt.Errorf("config path %q escapes its directory", path)
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}
	return Parse(data)
}

// Parse decodes YAML, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Planner.SegmentStep <= 0 {
		c.Planner.SegmentStep = 0.005 // 5 mm
	}
	if c.Planner.AngleIncrementDeg <= 0 {
		c.Planner.AngleIncrementDeg = 1
	}
	if c.PMT.Sides == 0 {
		c.PMT.Sides = 20
	}
	if c.PMT.LayerThickness <= 0 {
		c.PMT.LayerThickness = 0.01 // 1 cm
	}
	if c.PMT.Epsilon == 0 {
		c.PMT.Epsilon = 0.005
	}
	if c.Trigger.PulseMs <= 0 {
		c.Trigger.PulseMs = 10
	}
	if c.Trigger.SettleMs <= 0 {
		c.Trigger.SettleMs = 200
	}
	if c.Defaults.StepDelayUs <= 0 {
		c.Defaults.StepDelayUs = 500
	}
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf(format, args...))
		}
	}

	for _, id := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
		g := c.Gantry(id)
		d := g.Dimensions
		check(d.FrontHalfLength > 0 && d.BackHalfLength > 0, "%s.dimensions: half lengths must be > 0", id)
		check(d.BoxWidth > 0 && d.BoxHeight > 0, "%s.dimensions: box width and height must be > 0", id)
		check(d.TiltGearWidth >= 0 && d.TiltMotorLength >= 0, "%s.dimensions: tilt gear and motor sizes must be >= 0", id)
		check(g.Travel.XMax > g.Travel.XMin, "%s.travel: x_max must be > x_min", id)
		check(g.Travel.YMax > g.Travel.YMin, "%s.travel: y_max must be > y_min", id)
		check(g.Home.X >= g.Travel.XMin && g.Home.X <= g.Travel.XMax &&
			g.Home.Y >= g.Travel.YMin && g.Home.Y <= g.Travel.YMax, "%s.home must be inside travel", id)
		for i, ax := range g.Axes.List() {
			check(ax.Scale != 0, "%s.axes.%s.scale must be non-zero", id, axisNames[i])
		}
	}

	l := c.Limits
	check(l.RotationMaxDeg > l.RotationMinDeg, "limits: rotation_max_deg must be > rotation_min_deg")
	check(l.TiltMaxDeg > l.TiltMinDeg, "limits: tilt_max_deg must be > tilt_min_deg")
	check(l.ZMax > l.ZMin, "limits: z_max must be > z_min")
	check(l.BeamMargin >= 0, "limits: beam_margin must be >= 0")

	check(c.Tank.Radius > 0, "tank.radius must be > 0")
	check(c.Tank.HolderRadius > 0 && c.Tank.HolderRadius <= c.Tank.Radius, "tank.holder_radius must be within (0, radius]")
	check(c.Tank.RimDepth >= 0, "tank.rim_depth must be >= 0")

	check(c.PMT.Radius > 0, "pmt.radius must be > 0")
	check(c.PMT.Sides >= 3, "pmt.sides must be >= 3, got %d", c.PMT.Sides)
	check(c.PMT.TopDepth > 0, "pmt.top_depth must be > 0")

	check(c.Defaults.DebugLevel >= 0 && c.Defaults.DebugLevel <= 4,
		"defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	check(c.Trigger.Pin >= 0, "trigger.pin must be >= 0")
	return err
}

var axisNames = [5]string{"x", "y", "z", "rotation", "tilt"}

// Gantry returns the configuration of gantry id.
func (c *Config) Gantry(id geometry.GantryID) GantryConfig {
	if id == geometry.Gantry1 {
		return c.Gantry1
	}
	return c.Gantry0
}

// Home returns the homed pose of both gantries.
func (c *Config) Home() geometry.Pose {
	return geometry.Pose{Gantry0: c.Gantry0.Home, Gantry1: c.Gantry1.Home}
}

// Axes returns all ten axes in waypoint column order.
func (c *Config) Axes() [geometry.NumAxes]AxisConfig {
	var out [geometry.NumAxes]AxisConfig
	for _, id := range []geometry.GantryID{geometry.Gantry0, geometry.Gantry1} {
		list := c.Gantry(id).Axes.List()
		for i, ax := range geometry.AxisFor(id) {
			out[ax] = list[i]
		}
	}
	return out
}

// Scales returns the physical-to-count conversion of every axis.
func (c *Config) Scales() geometry.Scales {
	var s geometry.Scales
	for i, ax := range c.Axes() {
		s[i] = geometry.AxisScale{Scale: ax.Scale, Origin: ax.Origin}
	}
	return s
}

// Model returns the geometry model of both gantries.
func (c *Config) Model() *geometry.Model {
	return geometry.NewModel(c.Gantry0.Dimensions, c.Gantry1.Dimensions)
}

// TankBoundary returns the tank exclusion region.
func (c *Config) TankBoundary() obstacle.Tank {
	return obstacle.Tank{
		Center:       r2.Point{X: c.Tank.CenterX, Y: c.Tank.CenterY},
		Radius:       c.Tank.Radius,
		HolderRadius: c.Tank.HolderRadius,
		HolderDepth:  c.Tank.HolderDepth,
		RimDepth:     c.Tank.RimDepth,
	}
}

// PMTParams returns the sensor description. The stack reaches as deep as
// any box can go: z_max plus the largest box reach.
func (c *Config) PMTParams() obstacle.PMTParams {
	reach := math.Max(c.Gantry0.Dimensions.MaxReach(), c.Gantry1.Dimensions.MaxReach())
	return obstacle.PMTParams{
		Center:          r2.Point{X: c.PMT.CenterX, Y: c.PMT.CenterY},
		TopDepth:        c.PMT.TopDepth,
		Radius:          c.PMT.Radius,
		RimDepthFromTop: c.PMT.RimDepthFromTop,
		RimRadius:       c.PMT.RimRadius,
		LayerThickness:  c.PMT.LayerThickness,
		Sides:           c.PMT.Sides,
		Epsilon:         c.PMT.Epsilon,
		MaxDepth:        c.Limits.ZMax + reach,
	}
}

// PlannerSettings builds the read-only planner inputs, slicing the sensor.
func (c *Config) PlannerSettings() (planner.Settings, error) {
	stack, err := obstacle.NewStack(c.PMTParams())
	if err != nil {
		return planner.Settings{}, fmt.Errorf("build pmt stack: %w", err)
	}
	travel := func(t TravelConfig) planner.Travel {
		return planner.Travel{XMin: t.XMin, XMax: t.XMax, YMin: t.YMin, YMax: t.YMax}
	}
	return planner.Settings{
		Model:  c.Model(),
		PMT:    stack,
		Tank:   c.TankBoundary(),
		Scales: c.Scales(),
		Limits: planner.Limits{
			RotationMin: c.Limits.RotationMinDeg,
			RotationMax: c.Limits.RotationMaxDeg,
			TiltMin:     c.Limits.TiltMinDeg,
			TiltMax:     c.Limits.TiltMaxDeg,
			ZMin:        c.Limits.ZMin,
			ZMax:        c.Limits.ZMax,
			BeamMargin:  c.Limits.BeamMargin,
		},
		Travel:         [2]planner.Travel{travel(c.Gantry0.Travel), travel(c.Gantry1.Travel)},
		SegmentStep:    c.Planner.SegmentStep,
		AngleIncrement: c.Planner.AngleIncrementDeg,
	}, nil
}

// StepDelay returns the duration between two motor steps.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.Defaults.StepDelayUs) * time.Microsecond
}

// SettleDelay returns the wait between the end of a move and the trigger.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Trigger.SettleMs) * time.Millisecond
}

// PulseWidth returns the trigger pulse width.
func (c *Config) PulseWidth() time.Duration {
	return time.Duration(c.Trigger.PulseMs) * time.Millisecond
}
