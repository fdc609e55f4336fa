// Package cli builds Cedar's Cobra command tree, one subcommand per
// binary entry point (cedar-server, cedar-calibrate-only), following the
// donor pipeline's own cobra.go shape: flag variables captured by
// closure, a RunE that validates then hands off to a caller-supplied
// entry function. Unlike the donor, a single flag set here configures the
// whole capture/detect/solve/serve pipeline rather than one job type per
// subcommand.
package cli

import (
	"time"

	"github.com/spf13/cobra"

	"cedar/internal/config"
)

// Options is the fully-populated configuration a cedar-server or
// cedar-calibrate-only invocation runs with, flags layered over
// config.Load's file-and-defaults result.
type Options struct {
	Cfg *config.Config
}

func bindCommonFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	f.StringVar(&cfg.Paths.Tetra3Script, "tetra3_script", cfg.Paths.Tetra3Script, "path to the tetra3 plate-solve driver script")
	f.StringVar(&cfg.Paths.Tetra3Database, "tetra3_database", cfg.Paths.Tetra3Database, "path to the tetra3 star database")
	f.StringVar(&cfg.Camera.Interface, "camera_interface", cfg.Camera.Interface, "camera backend: asi|rpi|test")
	f.IntVar(&cfg.Camera.Index, "camera_index", cfg.Camera.Index, "camera device index")
	f.IntVar(&cfg.Camera.Binning, "binning", cfg.Camera.Binning, "detect binning factor: 1, 2, or 4")
	f.BoolVar(&cfg.Camera.DisplaySampling, "display_sampling", cfg.Camera.DisplaySampling, "produce a binned display image alongside full-resolution detect")
	f.StringVar(&cfg.Camera.TestImagePath, "test_image", cfg.Camera.TestImagePath, "path to a static image to replay instead of a real camera")
	f.DurationVar(&cfg.Calibration.MinExposure, "min_exposure", cfg.Calibration.MinExposure, "minimum auto-exposure duration")
	f.DurationVar(&cfg.Calibration.MaxExposure, "max_exposure", cfg.Calibration.MaxExposure, "maximum auto-exposure duration")
	f.IntVar(&cfg.Detect.StarCountGoal, "star_count_goal", cfg.Detect.StarCountGoal, "target detected star count for auto-exposure")
	f.Float64Var(&cfg.Detect.Sigma, "sigma", cfg.Detect.Sigma, "detection threshold in noise sigmas")
	f.Float64Var(&cfg.Detect.MinSigma, "min_sigma", cfg.Detect.MinSigma, "minimum detection threshold in noise sigmas")
	f.StringVar(&cfg.Paths.UIPrefs, "ui_prefs", cfg.Paths.UIPrefs, "path to the persisted UI preferences file")
	f.StringVar(&cfg.Logging.LogDir, "log_dir", cfg.Logging.LogDir, "directory for rotated log files (empty disables file logging)")
	f.StringVar(&cfg.Logging.LogFile, "log_file", cfg.Logging.LogFile, "log file name within log_dir (default day-stamped)")
}

// NewServerCmd builds the cedar-server root command. run is invoked once
// flags are parsed and bound into cfg.
func NewServerCmd(run func(Options) error) *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	cmd := &cobra.Command{
		Use:   "cedar-server",
		Short: "Cedar plate-solving and telescope-pointing server",
		Long: `cedar-server runs the capture -> detect -> solve pipeline and serves the
result over HTTP, gRPC, LX200, and ASCOM Alpaca to Cedar Aim and any
connected planetarium or telescope-control client.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(Options{Cfg: cfg})
		},
	}
	bindCommonFlags(cmd, cfg)
	return cmd
}

// NewCalibrateOnlyCmd builds the cedar-calibrate-only command: it runs the
// same flag surface but the entry function is expected to perform one
// calibration pass and exit rather than serve indefinitely.
func NewCalibrateOnlyCmd(run func(Options) error) *cobra.Command {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.DefaultConfig()
	}

	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "cedar-calibrate-only",
		Short: "Run one Cedar calibration pass and exit",
		Long: `cedar-calibrate-only drives the offset/exposure/optical calibration phases
to completion against the configured camera and solver, reports the
result, and exits without starting any of the serving surfaces.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if timeout > 0 {
				cfg.Solve.SolveTimeout = timeout
			}
			return run(Options{Cfg: cfg})
		},
	}
	bindCommonFlags(cmd, cfg)
	cmd.Flags().DurationVar(&timeout, "solve_timeout", 0, "override the per-attempt solve timeout during calibration")
	return cmd
}
