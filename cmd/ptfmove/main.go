package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/cjeanneret/ptfmove/internal/config"
	"github.com/cjeanneret/ptfmove/internal/debug"
	"github.com/cjeanneret/ptfmove/internal/hw/gpio"
	"github.com/cjeanneret/ptfmove/internal/hw/stepper"
	"github.com/cjeanneret/ptfmove/internal/hw/trigger"
	"github.com/cjeanneret/ptfmove/internal/logic/geometry"
	"github.com/cjeanneret/ptfmove/internal/logic/motion"
	"github.com/cjeanneret/ptfmove/internal/logic/planner"
	"github.com/cjeanneret/ptfmove/internal/logic/scan"
	"github.com/cjeanneret/ptfmove/internal/store"
	"github.com/cjeanneret/ptfmove/internal/web"
)

// options are the parsed command line.
type options struct {
	ConfigPath string
	WebPort    int
	ScanFile   string
	To         *geometry.Pose
	From       *geometry.Pose // dry run only; defaults to home
	DryRun     bool
	Journal    string // overrides defaults.journal_path
	DebugLevel int    // -1 = from config
}

func main() {
	webPort := &webPortFlag{defaultPort: 8080}
	to := &poseFlag{}
	from := &poseFlag{}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	scanFile := flag.String("scan", "", "YAML file of poses to visit, triggering a readout at each")
	flag.Var(to, "to", `destination "x,y,z,rot,tilt;x,y,z,rot,tilt" (gantry0;gantry1, metres and degrees)`)
	flag.Var(from, "from", "start pose for -dry-run (default: home)")
	dryRun := flag.Bool("dry-run", false, "plan -to and print the waypoint table without moving")
	journal := flag.String("journal", "", "plan journal path (overrides config)")
	debugLevel := flag.Int("debug", -1, "debug level 0-4 (overrides config)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, options{
		ConfigPath: *cfgPath,
		WebPort:    webPort.port(),
		ScanFile:   *scanFile,
		To:         to.pose,
		From:       from.pose,
		DryRun:     *dryRun,
		Journal:    *journal,
		DebugLevel: *debugLevel,
	}, os.Stdout)
	if err != nil {
		log.Fatalf("ptfmove: %v", err)
	}
}

func (o options) validate() error {
	modes := 0
	for _, on := range []bool{o.WebPort > 0, o.ScanFile != "", o.To != nil} {
		if on {
			modes++
		}
	}
	switch {
	case modes == 0:
		return errors.New("nothing to do: give one of -web, -scan or -to")
	case modes > 1:
		return errors.New("-web, -scan and -to are exclusive")
	case o.DryRun && o.To == nil:
		return errors.New("-dry-run needs -to")
	case o.From != nil && !o.DryRun:
		return errors.New("-from is only valid with -dry-run")
	}
	return nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	if err := opts.validate(); err != nil {
		return err
	}
	if err := config.ValidateConfigPath(opts.ConfigPath); err != nil {
		return err
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = opts.DebugLevel
	}
	if opts.Journal != "" {
		cfg.Defaults.JournalPath = opts.Journal
	}

	var broadcaster *web.StatusBroadcaster
	logOpts := debug.Options{Level: cfg.Defaults.DebugLevel, File: cfg.Defaults.LogFile}
	if opts.WebPort > 0 {
		broadcaster = web.NewStatusBroadcaster()
		logOpts.Console = io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster))
	}
	if err := debug.Setup(logOpts); err != nil {
		return err
	}
	defer debug.Sync()

	debug.Section("Initialization")
	debug.Value("Config path", opts.ConfigPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	debug.Step(1, "Slicing sensor and building planner")
	settings, err := cfg.PlannerSettings()
	if err != nil {
		return err
	}
	debug.Value("Sensor layers", settings.PMT.Len())
	a := &app{planner: planner.New(settings), out: out}

	if path := cfg.Defaults.JournalPath; path != "" {
		debug.Value("Journal", path)
		j, err := store.Open(path)
		if err != nil {
			return err
		}
		defer j.Close()
		a.journal = j
	}

	if opts.DryRun {
		start := cfg.Home()
		if opts.From != nil {
			start = *opts.From
		}
		_, _, err := a.plan(ctx, "cli", start, *opts.To)
		return err
	}

	debug.Step(2, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	drv, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := drv.Close(); err != nil {
			debug.Error(fmt.Errorf("close GPIO driver: %w", err))
		}
	}()

	debug.Step(3, "Initializing stepper motors")
	ctrl := motion.NewController(newAxes(drv, cfg), cfg.Scales())
	// position is assumed homed at start-up
	ctrl.SetPose(cfg.Home())
	debug.Value("Start pose", cfg.Home())
	if err := ctrl.EnableMotors(); err != nil {
		return err
	}
	defer ctrl.DisableMotors()

	switch {
	case opts.WebPort > 0:
		deps := web.Deps{
			Planner: a.planner,
			Machine: ctrl,
			Info: web.MachineInfo{
				Home:   cfg.Home(),
				Limits: settings.Limits,
				Travel: settings.Travel,
			},
		}
		if a.journal != nil {
			deps.Journal = a.journal
		}
		srv, err := web.NewServer(fmt.Sprintf(":%d", opts.WebPort), broadcaster, deps)
		if err != nil {
			return err
		}
		return srv.Run(ctx)

	case opts.ScanFile != "":
		points, err := scan.LoadPoints(opts.ScanFile)
		if err != nil {
			return err
		}
		trig := trigger.New(drv, cfg.Trigger.Pin, cfg.SettleDelay(), cfg.PulseWidth())
		seq := scan.NewSequence(a.planner, ctrl, trig)
		rep, err := seq.Run(ctx, points, func(r scan.PointResult) {
			a.recordPoint(ctx, r)
		})
		fmt.Fprintf(out, "scan: %d visited, %d skipped\n", rep.Visited, rep.Skipped)
		return err

	default:
		return a.move(ctx, ctrl, *opts.To)
	}
}

// app ties the planner to the journal and the terminal.
type app struct {
	planner *planner.Planner
	journal *store.Journal // nil when disabled
	out     io.Writer
}

// plan plans cur -> dest, prints the outcome and journals it.
func (a *app) plan(ctx context.Context, source string, cur, dest geometry.Pose) (*planner.MotionPlan, string, error) {
	plan, err := a.planner.Plan(cur, dest)
	entry := store.Entry{Source: source, Current: cur, Dest: dest, Status: planner.StatusOf(err).String()}
	if err != nil {
		entry.Reason = err.Error()
		fmt.Fprintf(a.out, "%s: %v\n", entry.Status, err)
	} else {
		entry.Ordering = plan.Ordering().String()
		entry.Rows = plan.Len()
		fmt.Fprintf(a.out, "%s: %s, %d rows\n%s", entry.Status, entry.Ordering, plan.Len(), plan)
	}
	return plan, a.record(ctx, entry), err
}

func (a *app) record(ctx context.Context, e store.Entry) string {
	if a.journal == nil {
		return ""
	}
	id, err := a.journal.Record(ctx, e)
	if err != nil {
		debug.Error(err)
	}
	return id
}

func (a *app) markExecuted(ctx context.Context, id string, execErr error) {
	if a.journal == nil || id == "" {
		return
	}
	if err := a.journal.MarkExecuted(context.WithoutCancel(ctx), id, execErr); err != nil {
		debug.Error(err)
	}
}

// move plans from the motor position and drives the gantries there.
func (a *app) move(ctx context.Context, ctrl *motion.Controller, dest geometry.Pose) error {
	plan, id, err := a.plan(ctx, "cli", ctrl.Pose(), dest)
	if err != nil {
		return err
	}
	err = ctrl.Execute(ctx, plan.Steps, nil)
	a.markExecuted(ctx, id, err)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "at %s\n", ctrl.Pose())
	return nil
}

func (a *app) recordPoint(ctx context.Context, r scan.PointResult) {
	e := store.Entry{Source: "scan", Current: r.From, Dest: r.Dest, Status: planner.StatusOf(r.Err).String()}
	if r.Skipped {
		e.Reason = r.Err.Error()
	} else {
		e.Ordering = r.Plan.Ordering().String()
		e.Rows = r.Plan.Len()
		e.Executed = true
	}
	a.record(context.WithoutCancel(ctx), e)
}

// newAxes builds the ten steppers in waypoint column order.
func newAxes(drv gpio.Driver, cfg *config.Config) [geometry.NumAxes]*stepper.Stepper {
	var axes [geometry.NumAxes]*stepper.Stepper
	for i, ac := range cfg.Axes() {
		axes[i] = stepper.NewStepper(drv, stepper.Config{
			Name:         geometry.Axis(i).String(),
			StepPin:      ac.StepPin,
			DirPin:       ac.DirPin,
			EnablePin:    ac.EnablePin,
			LimitPin:     ac.LimitPin,
			LimitForward: ac.LimitForward,
			StepDelay:    cfg.StepDelay(),
		})
		debug.PrintStruct(geometry.Axis(i).String(), ac)
	}
	return axes
}

// parseAxisPose parses "x,y,z,rotation,tilt".
func parseAxisPose(s string) (geometry.AxisPose, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 5 {
		return geometry.AxisPose{}, fmt.Errorf("want 5 comma-separated values, got %d in %q", len(fields), s)
	}
	var v [5]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return geometry.AxisPose{}, fmt.Errorf("value %d of %q: %w", i+1, s, err)
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return geometry.AxisPose{}, fmt.Errorf("value %d of %q is not finite", i+1, s)
		}
		v[i] = x
	}
	return geometry.AxisPose{X: v[0], Y: v[1], Z: v[2], Rotation: v[3], Tilt: v[4]}, nil
}

// parsePose parses "gantry0;gantry1".
func parsePose(s string) (geometry.Pose, error) {
	parts := strings.Split(s, ";")
	if len(parts) != 2 {
		return geometry.Pose{}, fmt.Errorf("want two gantry poses separated by ';', got %q", s)
	}
	g0, err := parseAxisPose(parts[0])
	if err != nil {
		return geometry.Pose{}, fmt.Errorf("gantry0: %w", err)
	}
	g1, err := parseAxisPose(parts[1])
	if err != nil {
		return geometry.Pose{}, fmt.Errorf("gantry1: %w", err)
	}
	return geometry.Pose{Gantry0: g0, Gantry1: g1}, nil
}

// poseFlag implements flag.Value for a full two-gantry pose.
type poseFlag struct {
	pose *geometry.Pose
}

func (p *poseFlag) String() string {
	if p.pose == nil {
		return ""
	}
	return p.pose.String()
}

func (p *poseFlag) Set(s string) error {
	pose, err := parsePose(s)
	if err != nil {
		return err
	}
	p.pose = &pose
	return nil
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
