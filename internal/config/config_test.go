package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/planner"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "configs", "default.yaml")
	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
	if err := ValidateConfigPath("configs/café lab.yaml"); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_Rejected(t *testing.T) {
	cases := []string{
		"",
		"../../etc/passwd",
		"configs/../../../etc/shadow",
		"../configs/default.yaml",
		"configs/default.json",
		"configs/default.yml",
		"configs/default",
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for %q, got nil", path)
		}
	}
}

// ---------- Load ----------

func defaultYAML(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgDir := filepath.Join(t.TempDir(), "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, defaultYAML(t)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Gantry1.Home.Rotation != -90 {
		t.Errorf("gantry1.home.rotation = %v, want -90", cfg.Gantry1.Home.Rotation)
	}
	if cfg.Limits.BeamMargin != 0.1 {
		t.Errorf("limits.beam_margin = %v, want 0.1", cfg.Limits.BeamMargin)
	}
	if got := cfg.Axes()[geometry.AxisZ1].LimitPin; got != 25 {
		t.Errorf("z1 limit pin = %d, want 25", got)
	}
	if !cfg.Axes()[geometry.AxisZ1].LimitForward {
		t.Error("z1 limit switch should end forward (downward) travel")
	}
	if got := cfg.Scales()[geometry.AxisRotation0].Scale; got != 44.44 {
		t.Errorf("rot0 scale = %v, want 44.44", got)
	}
	if got := cfg.PMTParams().MaxDepth; math.Abs(got-0.775) > 1e-9 {
		t.Errorf("pmt max depth = %v, want 0.775", got)
	}
	if cfg.StepDelay() != 500*time.Microsecond {
		t.Errorf("step delay = %v, want 500µs", cfg.StepDelay())
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	yaml := defaultYAML(t)
	for _, line := range []string{"  segment_step: 0.005\n", "  angle_increment_deg: 1\n", "  settle_ms: 200\n", "  sides: 20\n"} {
		yaml = strings.Replace(yaml, line, "", 1)
	}
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Planner.SegmentStep != 0.005 {
		t.Errorf("segment_step default = %v, want 0.005", cfg.Planner.SegmentStep)
	}
	if cfg.Planner.AngleIncrementDeg != 1 {
		t.Errorf("angle_increment_deg default = %v, want 1", cfg.Planner.AngleIncrementDeg)
	}
	if cfg.PMT.Sides != 20 {
		t.Errorf("pmt.sides default = %d, want 20", cfg.PMT.Sides)
	}
	if cfg.SettleDelay() != 200*time.Millisecond {
		t.Errorf("settle delay default = %v, want 200ms", cfg.SettleDelay())
	}
}

func TestLoad_AggregatesErrors(t *testing.T) {
	yaml := strings.Replace(defaultYAML(t), "beam_margin: 0.1", "beam_margin: -1", 1)
	yaml = strings.Replace(yaml, "z_max: 0.55", "z_max: -0.5", 1)
	yaml = strings.Replace(yaml, "debug_level: 1", "debug_level: 9", 1)

	_, err := Load(writeConfig(t, yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if n := len(multierr.Errors(err)); n != 3 {
		t.Errorf("got %d errors, want 3: %v", n, err)
	}
}

func TestLoad_ZeroScale(t *testing.T) {
	yaml := strings.Replace(defaultYAML(t), "scale: 50000,  origin: 0, step_pin: 6", "scale: 0, origin: 0, step_pin: 6", 1)
	_, err := Load(writeConfig(t, yaml))
	if err == nil || !strings.Contains(err.Error(), "gantry0.axes.z.scale") {
		t.Errorf("expected zero scale error, got %v", err)
	}
}

func TestLoad_HolderWiderThanTank(t *testing.T) {
	yaml := strings.Replace(defaultYAML(t), "holder_radius: 0.6", "holder_radius: 0.9", 1)
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for holder_radius > radius, got nil")
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if _, err := Load(writeConfig(t, string(data))); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "{{{{invalid yaml!!!!")); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("expected error for empty config, got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := defaultYAML(t) + "\nunknown_section:\n  foo: bar\n"
	if _, err := Load(writeConfig(t, yaml)); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "nonexistent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// ---------- PlannerSettings ----------

func TestPlannerSettings_PlansFromHome(t *testing.T) {
	cfg, err := Load(writeConfig(t, defaultYAML(t)))
	if err != nil {
		t.Fatal(err)
	}
	settings, err := cfg.PlannerSettings()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := planner.New(settings)

	home := cfg.Home()
	dest := home.With(geometry.Gantry0, geometry.AxisPose{X: 0.3, Y: 0.3})
	plan, err := p.Plan(home, dest)
	if err != nil {
		t.Fatalf("plan from home: %v", err)
	}
	if plan.Last() != cfg.Scales().ToWaypoint(dest) {
		t.Errorf("last row %v, want %v", plan.Last(), cfg.Scales().ToWaypoint(dest))
	}
}

func TestPlannerSettings_BadPMT(t *testing.T) {
	yaml := strings.Replace(defaultYAML(t), "rim_radius: 0.26", "rim_radius: 0.05", 1)
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.PlannerSettings(); err == nil {
		t.Error("expected error for rim radius smaller than the sensor, got nil")
	}
}
