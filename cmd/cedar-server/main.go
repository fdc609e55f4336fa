// Command cedar-server runs Cedar's capture -> detect -> solve pipeline
// and serves the result over HTTP, gRPC, LX200, and ASCOM Alpaca.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cedar/internal/alpaca"
	"cedar/internal/camera"
	"cedar/internal/camera/testimage"
	"cedar/internal/catalog"
	"cedar/internal/cedarerr"
	"cedar/internal/cli"
	"cedar/internal/config"
	"cedar/internal/dashboard"
	"cedar/internal/detect"
	"cedar/internal/detectkernel"
	"cedar/internal/httpapi"
	"cedar/internal/integration"
	"cedar/internal/lx200"
	"cedar/internal/motion"
	"cedar/internal/orchestrator"
	"cedar/internal/polar"
	"cedar/internal/preferences"
	"cedar/internal/rpc"
	"cedar/internal/solve"
	"cedar/internal/solver/tetra3"
	"cedar/internal/telemetry"
	"cedar/internal/telescope"

	"cedar/internal/logging"
)

// errSignalShutdown marks a clean shutdown triggered by SIGINT/SIGTERM, so
// main can report the -1 exit code spec'd for that path distinctly from the
// plain-success and argument-error cases.
var errSignalShutdown = errors.New("shutdown requested")

func main() {
	cmd := cli.NewServerCmd(run)
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errSignalShutdown) {
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
	var catalogCap catalog.Capability // Cedar-Sky database is out of scope; nil disables FOV overlays

	prefs, err := preferences.Open(cfg.Paths.UIPrefs, logger)
	if err != nil {
		return err
	}
	telescopeRecord := telescope.New()

	telemetryStore, err := telemetry.Open(cfg.Paths.Telemetry)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		telemetryStore = nil
	}
	defer telemetryStore.Close()

	detectEngine := detect.New(detect.Config{
		InitialExposureDuration: cfg.Calibration.InitialExposure,
		MinExposureDuration:     cfg.Calibration.MinExposure,
		MaxExposureDuration:     cfg.Calibration.MaxExposure,
		DetectionMinSigma:       cfg.Detect.MinSigma,
		DetectionSigma:          cfg.Detect.Sigma,
		StarCountGoal:           cfg.Detect.StarCountGoal,
		DisplaySampling:         cfg.Camera.DisplaySampling,
	}, cam, kernel, logger)

	motionEstimator := motion.NewEstimator(5*time.Second, time.Second)
	polarAnalyzer := polar.NewAnalyzer(logger)
	callback := integration.NewCallback(telescopeRecord, motionEstimator, polarAnalyzer, prefs, logger)

	solveEngine := solve.New(solve.Config{}, solverCap, catalogCap, detectEngine, callback.Handle, logger)

	orch := orchestrator.New(orchestrator.Config{
		DetectionBinning:         cfg.Camera.Binning,
		DetectionMinSigma:        cfg.Detect.MinSigma,
		DetectionSigma:           cfg.Detect.Sigma,
		StarCountGoal:            cfg.Detect.StarCountGoal,
		MinExposureDuration:      cfg.Calibration.MinExposure,
		MaxExposureDuration:      cfg.Calibration.MaxExposure,
		InitialExposureDuration:  cfg.Calibration.InitialExposure,
	}, cam, kernel, solverCap, detectEngine, solveEngine, telescopeRecord, prefs, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dash := dashboard.New(orch, logger)
	dashStop := make(chan struct{})
	go dash.Run(2*time.Second, dashStop)

	go recordTelemetry(ctx, solveEngine, telemetryStore, logger)

	rpcServer := rpc.New(rpc.Engines{Solve: solveEngine, Orchestrator: orch, Telescope: telescopeRecord}, logger)
	httpServer := httpapi.New(solveEngine, orch, prefs, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/", httpServer.Router())
	mux.HandleFunc("/ws/dashboard", dash.ServeWS)
	httpSrv := &http.Server{Addr: ":8765", Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http api server stopped", "error", err)
		}
	}()

	grpcListener, err := net.Listen("tcp", ":8766")
	if err != nil {
		return err
	}
	go func() {
		if err := rpcServer.GRPCServer().Serve(grpcListener); err != nil {
			logger.Error("grpc server stopped", "error", err)
		}
	}()

	if cfg.LX200.Enabled {
		lx200Server := lx200.New(telescopeRecord, cfg.LX200.ListenAddr, cfg.LX200.SerialPort, logger)
		go func() {
			if err := lx200Server.ListenAndServeTCP(ctx); err != nil {
				logger.Warn("lx200 tcp server stopped", "error", err)
			}
		}()
		if cfg.LX200.SerialPort != "" {
			go func() {
				if err := lx200Server.ListenAndServeSerial(ctx); err != nil {
					logger.Warn("lx200 serial server stopped", "error", err)
				}
			}()
		}
	}

	if cfg.Alpaca.Enabled {
		alpacaServer := alpaca.New(telescopeRecord, cfg.Alpaca.DeviceName, cfg.Alpaca.ListenAddr, cfg.Alpaca.DiscoveryPort, logger)
		alpacaSrv := &http.Server{Addr: cfg.Alpaca.ListenAddr, Handler: alpacaServer.Router()}
		go func() {
			if err := alpacaSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("alpaca http server stopped", "error", err)
			}
		}()
		go func() {
			if err := alpacaServer.ServeDiscovery(); err != nil {
				logger.Warn("alpaca discovery responder stopped", "error", err)
			}
		}()
	}

	logger.Info("cedar-server started")
	<-ctx.Done()
	logger.Info("cedar-server shutting down")
	close(dashStop)
	_ = httpSrv.Shutdown(context.Background())
	rpcServer.GRPCServer().GracefulStop()
	detectEngine.Stop()
	solveEngine.Stop()
	return errSignalShutdown
}

// recordTelemetry tails the solve engine's results and appends each one to
// the frame history table until ctx is cancelled.
func recordTelemetry(ctx context.Context, solveEngine *solve.Engine, store *telemetry.Store, logger *slog.Logger) {
	var prevID camera.FrameID
	var havePrev bool
	for {
		sol, err := solveEngine.GetNextResult(ctx, prevID, havePrev)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		prevID = sol.DetectResult.FrameID
		havePrev = true

		if err := store.RecordFrame(telemetry.FrameRecord{
			FrameID:          uint64(sol.DetectResult.FrameID),
			RecordedAt:       sol.SolveFinishTime,
			StarCount:        len(sol.DetectResult.Stars),
			AcquireLatencyMs: sol.DetectResult.AcquireLatency.Recent.Mean,
			DetectLatencyMs:  sol.DetectResult.DetectLatency.Recent.Mean,
			SolveLatencyMs:   float64(sol.ProcessingDuration.Milliseconds()),
			Solved:           sol.Solution != nil,
		}); err != nil {
			logger.Warn("record frame telemetry", "error", err)
		}
	}
}
