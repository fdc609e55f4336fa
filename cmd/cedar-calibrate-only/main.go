// Command cedar-calibrate-only drives one offset/exposure/optical
// calibration pass against the configured camera and solver, reports the
// outcome, and exits without starting any of Cedar's serving surfaces.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cedar/internal/camera"
	"cedar/internal/camera/testimage"
	"cedar/internal/cedarerr"
	"cedar/internal/cli"
	"cedar/internal/config"
	"cedar/internal/detect"
	"cedar/internal/detectkernel"
	"cedar/internal/integration"
	"cedar/internal/logging"
	"cedar/internal/motion"
	"cedar/internal/orchestrator"
	"cedar/internal/polar"
	"cedar/internal/preferences"
	"cedar/internal/solve"
	"cedar/internal/solver/tetra3"
	"cedar/internal/telescope"
)

func main() {
	cmd := cli.NewCalibrateOnlyCmd(run)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(-1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCamera(cfg *config.Config) (camera.Capability, error) {
	switch cfg.Camera.Interface {
	case "test":
		return testimage.Load(cfg.Camera.TestImagePath)
	case "asi", "rpi":
		return nil, cedarerr.New(cedarerr.Unimplemented, "camera interface %q requires vendor SDK hardware not available in this build", cfg.Camera.Interface)
	default:
		return nil, cedarerr.New(cedarerr.InvalidArgument, "unknown camera_interface %q", cfg.Camera.Interface)
	}
}

func run(opts cli.Options) error {
	cfg := opts.Cfg
	logger, err := logging.Setup(cfg)
	if err != nil {
		return err
	}

	cam, err := buildCamera(cfg)
	if err != nil {
		return err
	}
	kernel := detectkernel.New()
	solverCap := tetra3.New(cfg.Paths.Tetra3Script, cfg.Paths.Tetra3Database)

	prefs, err := preferences.Open(cfg.Paths.UIPrefs, logger)
	if err != nil {
		return err
	}
	telescopeRecord := telescope.New()

	detectEngine := detect.New(detect.Config{
		InitialExposureDuration: cfg.Calibration.InitialExposure,
		MinExposureDuration:     cfg.Calibration.MinExposure,
		MaxExposureDuration:     cfg.Calibration.MaxExposure,
		DetectionMinSigma:       cfg.Detect.MinSigma,
		DetectionSigma:          cfg.Detect.Sigma,
		StarCountGoal:           cfg.Detect.StarCountGoal,
	}, cam, kernel, logger)

	motionEstimator := motion.NewEstimator(5*time.Second, time.Second)
	polarAnalyzer := polar.NewAnalyzer(logger)
	callback := integration.NewCallback(telescopeRecord, motionEstimator, polarAnalyzer, prefs, logger)
	solveEngine := solve.New(solve.Config{}, solverCap, nil, detectEngine, callback.Handle, logger)

	orch := orchestrator.New(orchestrator.Config{
		DetectionBinning:        cfg.Camera.Binning,
		DetectionMinSigma:       cfg.Detect.MinSigma,
		DetectionSigma:          cfg.Detect.Sigma,
		StarCountGoal:           cfg.Detect.StarCountGoal,
		MinExposureDuration:     cfg.Calibration.MinExposure,
		MaxExposureDuration:     cfg.Calibration.MaxExposure,
		InitialExposureDuration: cfg.Calibration.InitialExposure,
	}, cam, kernel, solverCap, detectEngine, solveEngine, telescopeRecord, prefs, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orch.RequestMode(ctx, orchestrator.ModeSetupAlign); err != nil {
		return err
	}
	for {
		calibrating, _, _, lastErr := orch.CalibrationStatus()
		if !calibrating {
			if lastErr != nil {
				fmt.Fprintln(os.Stderr, "calibration failed:", lastErr)
				os.Exit(1)
			}
			fmt.Println("calibration succeeded")
			return nil
		}
		select {
		case <-ctx.Done():
			orch.CancelCalibration()
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
