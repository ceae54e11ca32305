// Command vplottercore wires the kinematics solver, stepper engine,
// motion planner, pen actuator, and job runner into the §5 cooperative
// main loop: stepper tick, runner tick, external-interface tick, in that
// order, once per cadence tick.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"go.uber.org/zap/zapcore"

	"github.com/vplotter/motioncore/jobrunner"
	"github.com/vplotter/motioncore/logging"
	"github.com/vplotter/motioncore/motionplan"
	"github.com/vplotter/motioncore/pen"
	"github.com/vplotter/motioncore/plannerconfig"
	"github.com/vplotter/motioncore/rig"
	"github.com/vplotter/motioncore/stepper"
)

// cadence is the main loop's tick period. §5 calls for a "kilohertz
// cadence"; 1ms keeps the stepper/runner ticks comfortably ahead of the
// pulse rates the stepper engine's own background worker generates.
const cadence = 1 * time.Millisecond

func main() {
	configPath := flag.String("config", "plotter-config.yaml", "planner/tuning/rig config YAML path")
	logPath := flag.String("log", "vplottercore.log", "rotating log file path")

	leftStepPin := flag.String("left-step-pin", "GPIO5", "left belt step GPIO pin name")
	leftDirPin := flag.String("left-dir-pin", "GPIO6", "left belt direction GPIO pin name")
	rightStepPin := flag.String("right-step-pin", "GPIO13", "right belt step GPIO pin name")
	rightDirPin := flag.String("right-dir-pin", "GPIO19", "right belt direction GPIO pin name")
	penPin := flag.String("pen-pin", "GPIO26", "pen servo GPIO pin name")

	jobFile := flag.String("job", "", "command file to run at startup (empty = idle until externally started)")
	startLine := flag.Int("start-line", 0, "body line to resume from, skipping and replaying distance for the lines before it")
	flag.Parse()

	logger := buildLogger(*logPath)

	if _, err := host.Init(); err != nil {
		logger.Warnf("periph host init: %v", err)
	}

	store, err := plannerconfig.NewStore(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	cfg := store.Get()

	solver := rig.NewSolver(cfg.Rig.ToGeometry(), logger)

	engine, err := stepper.NewEngine(
		stepper.Pins{Step: mustPin(*leftStepPin), Dir: mustPin(*leftDirPin)},
		stepper.Pins{Step: mustPin(*rightStepPin), Dir: mustPin(*rightDirPin)},
		logger,
	)
	if err != nil {
		log.Fatalf("initializing stepper engine: %v", err)
	}
	engine.SetPulseWidths(cfg.Tuning.PulseLeftUs, cfg.Tuning.PulseRightUs)

	planner := motionplan.NewPlanner(solver, engine, cfg.Planner.LookaheadSegments, logger)

	actuator := pen.New(newPWMServo(mustPin(*penPin)), 10, 60, logger)

	runner := jobrunner.NewRunner(planner, actuator, store, logger, rig.Point{X: 0, Y: 0})

	if *jobFile != "" {
		if err := runner.Start(*jobFile, *startLine); err != nil {
			logger.Errorf("starting job %q: %v", *jobFile, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runMainLoop(ctx, runner)
}

// runMainLoop is the §5 scheduling model: stepper tick, runner tick,
// external-interface tick, once per cadence, never blocking. The stepper
// engine ticks itself on its own background worker (§4.2's "implementations
// may choose timer/ISR or task-driven pulse generation"), so this loop's
// job is the runner tick plus the external-interface stub.
func runMainLoop(ctx context.Context, runner *jobrunner.Runner) {
	ticker := time.NewTicker(cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runner.Tick(ctx)
			// External-interface tick (§6: HTTP/JSON control surface) is
			// out of scope; nothing to poll here.
		}
	}
}

func buildLogger(logPath string) logging.Logger {
	fileAppender, closer, err := logging.NewFileAppender(logPath)
	_ = closer // the process lifetime is the log file's lifetime; no explicit close needed
	if err != nil {
		log.Printf("logging: could not rotate log file %q, continuing console-only: %v", logPath, err)
		return logging.New("vplottercore", zapcore.InfoLevel, logging.NewStdoutAppender())
	}
	return logging.New("vplottercore", zapcore.InfoLevel, logging.NewStdoutAppender(), fileAppender)
}

func mustPin(name string) gpio.PinIO {
	p := gpioreg.ByName(name)
	if p == nil {
		log.Fatalf("gpio pin %q not found", name)
	}
	return p
}
