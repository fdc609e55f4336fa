// Package logging configures Cedar's slog output, carrying forward the
// donor pipeline's TraditionalHandler (stdout + day-stamped rotating file
// via a "-current.log" symlink) and its LogXStart/LogXComplete/LogXError
// helper shape, renamed to the frame/solve/calibration vocabulary the
// detect engine, solve engine, calibrator, and orchestrator actually log.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cedar/internal/config"
)

// New returns a slog.Logger with the provided level string (info, debug,
// warn, error), writing plain text to stdout only.
func New(level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// Setup configures global logging with file output and day-stamped
// rotation, and installs the result as slog's default logger.
func Setup(cfg *config.Config) (*slog.Logger, error) {
	level := parseLevel(cfg.Logging.Level)

	var writers []io.Writer
	writers = append(writers, os.Stdout)

	if cfg.Logging.LogDir != "" {
		if err := os.MkdirAll(cfg.Logging.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		name := cfg.Logging.LogFile
		if name == "" {
			name = fmt.Sprintf("cedar-%s.log", time.Now().Format("2006-01-02"))
		}
		logFile := filepath.Join(cfg.Logging.LogDir, name)

		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, file)

		currentLogPath := filepath.Join(cfg.Logging.LogDir, "cedar-current.log")
		os.Remove(currentLogPath)
		_ = os.Symlink(filepath.Base(logFile), currentLogPath)
	}

	multiWriter := io.MultiWriter(writers...)
	stdLogger := log.New(multiWriter, "", log.LstdFlags)
	handler := &TraditionalHandler{logger: stdLogger, level: level}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("cedar logging initialized",
		"level", cfg.Logging.Level,
		"log_dir", cfg.Logging.LogDir,
	)
	return logger, nil
}

// TraditionalHandler implements slog.Handler with the donor's traditional
// "[LEVEL] message [key=value ...]" line format rather than slog's default
// key=value-only rendering.
type TraditionalHandler struct {
	logger *log.Logger
	level  slog.Level
}

func (h *TraditionalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *TraditionalHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	attrs := make([]string, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		return true
	})
	if len(attrs) > 0 {
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(attrs, " "))
	}
	h.logger.Printf("[%s] %s", strings.ToUpper(r.Level.String()), msg)
	return nil
}

func (h *TraditionalHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *TraditionalHandler) WithGroup(name string) slog.Handler      { return h }

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFrameAcquired logs one detect-engine iteration's capture/detect
// summary, the frame-pipeline analogue of the donor's LogJobStart.
func LogFrameAcquired(logger *slog.Logger, frameID uint64, starCount int, duration time.Duration, daylightMode bool) {
	logger.Info("frame acquired",
		"frame_id", frameID,
		"stars", starCount,
		"duration_ms", duration.Milliseconds(),
		"daylight_mode", daylightMode,
	)
}

// LogSolveComplete logs a successful solve-engine iteration.
func LogSolveComplete(logger *slog.Logger, frameID uint64, duration time.Duration, raDeg, decDeg, fovDeg float64) {
	logger.Info("solve completed",
		"frame_id", frameID,
		"duration_ms", duration.Milliseconds(),
		"ra_deg", raDeg,
		"dec_deg", decDeg,
		"fov_deg", fovDeg,
	)
}

// LogSolveFailed logs a solve attempt that produced no solution.
func LogSolveFailed(logger *slog.Logger, frameID uint64, centroidCount int, err error) {
	logger.Warn("solve failed",
		"frame_id", frameID,
		"centroids", centroidCount,
		"error", err.Error(),
	)
}

// LogCalibrationPhase logs the start or completion of one calibration
// phase (offset, exposure, optical).
func LogCalibrationPhase(logger *slog.Logger, phase, status string, duration time.Duration, details map[string]any) {
	logger.Info("calibration phase",
		"phase", phase,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"details", details,
	)
}

// LogWorkerRespawn logs a detect/solve worker that exited (panic or
// unrecoverable error) and is being lazily restarted on the next request.
func LogWorkerRespawn(logger *slog.Logger, worker string, cause error) {
	logger.Error("worker respawned after exit",
		"worker", worker,
		"cause", cause,
	)
}
