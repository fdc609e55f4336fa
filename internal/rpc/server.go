// Package rpc serves the frame/calibration RPC the UI polls, replacing
// the donor pipeline's agent-sync gRPC service (internal/grpcserver) with
// Cedar's own four operations: GetFrame (long-polls the latest merged
// frame result), StreamFrames, GetCalibrationStatus, and
// InitiateCalibration. It keeps
// the donor's google.golang.org/grpc transport — server-streaming frames
// is the gRPC-native equivalent of the donor's SSE job-result stream —
// but carries plain DTOs over the transport via the json codec in
// codec.go rather than protoc-generated messages.
package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"

	"cedar/internal/camera"
	"cedar/internal/orchestrator"
	"cedar/internal/telescope"
)

// Engines groups the worker loop and shared state the RPC reads.
type Engines struct {
	Solve        SolveSource
	Orchestrator *orchestrator.Orchestrator
	Telescope    *telescope.Record
}

// Server implements the Cedar frame/calibration RPC over grpc.Server.
type Server struct {
	UnimplementedCedarRPCServer

	engines Engines
	logger  *slog.Logger
	grpc    *grpc.Server
}

// New returns a Server wrapping a *grpc.Server (see GRPCServer), registered with
// the json codec in codec.go so it needs no generated pb.go stubs.
func New(engines Engines, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engines: engines, logger: logger}
	s.grpc = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	RegisterCedarRPCServer(s.grpc, s)
	return s
}

// GRPCServer returns the underlying *grpc.Server so the caller can Serve
// it on a net.Listener.
func (s *Server) GRPCServer() *grpc.Server { return s.grpc }

// GetFrameRequest polls for a frame newer than PrevFrameID.
type GetFrameRequest struct {
	PrevFrameID uint64 `json:"prev_frame_id"`
	HavePrev    bool   `json:"have_prev"`
}

// GetFrame long-polls (bounded by ctx's deadline) for the next merged
// frame result newer than req.PrevFrameID.
func (s *Server) GetFrame(ctx context.Context, req *GetFrameRequest) (*FrameResponse, error) {
	sol, err := s.engines.Solve.GetNextResult(ctx, camera.FrameID(req.PrevFrameID), req.HavePrev)
	if err != nil {
		return nil, err
	}
	return BuildFrameResponse(sol, s.engines.Telescope), nil
}

// StreamFrames is the server-streaming equivalent of GetFrame: it keeps
// long-polling and pushing every newly published frame until the client
// disconnects, the gRPC-native analogue of the donor's SSE stream.
func (s *Server) StreamFrames(req *GetFrameRequest, stream CedarRPC_StreamFramesServer) error {
	prevID := camera.FrameID(req.PrevFrameID)
	havePrev := req.HavePrev
	for {
		ctx, cancel := context.WithTimeout(stream.Context(), 30*time.Second)
		sol, err := s.engines.Solve.GetNextResult(ctx, prevID, havePrev)
		cancel()
		if err != nil {
			if stream.Context().Err() != nil {
				return nil
			}
			continue
		}
		if err := stream.Send(BuildFrameResponse(sol, s.engines.Telescope)); err != nil {
			return err
		}
		prevID = sol.DetectResult.FrameID
		havePrev = true
	}
}

// CalibrationStatusResponse reports orchestrator calibration progress.
type CalibrationStatusResponse struct {
	Calibrating    bool   `json:"calibrating"`
	EstimatedMs    int64  `json:"estimated_ms"`
	ElapsedMs      int64  `json:"elapsed_ms"`
	LastError      string `json:"last_error,omitempty"`
}

// GetCalibrationStatus reports the orchestrator's current calibration
// progress.
func (s *Server) GetCalibrationStatus(ctx context.Context, _ *Empty) (*CalibrationStatusResponse, error) {
	calibrating, estimated, elapsed, lastErr := s.engines.Orchestrator.CalibrationStatus()
	resp := &CalibrationStatusResponse{
		Calibrating: calibrating,
		EstimatedMs: estimated.Milliseconds(),
		ElapsedMs:   elapsed.Milliseconds(),
	}
	if lastErr != nil {
		resp.LastError = lastErr.Error()
	}
	return resp, nil
}

// InitiateCalibrationRequest requests a mode transition that forces a
// fresh calibration (any target mode other than SETUP:focus).
type InitiateCalibrationRequest struct {
	TargetMode string `json:"target_mode"` // "align", "daylight", "operate"
}

// InitiateCalibration asks the orchestrator to leave SETUP:focus,
// triggering the detached calibration task.
func (s *Server) InitiateCalibration(ctx context.Context, req *InitiateCalibrationRequest) (*Empty, error) {
	target := orchestrator.ModeOperate
	switch req.TargetMode {
	case "align":
		target = orchestrator.ModeSetupAlign
	case "daylight":
		target = orchestrator.ModeSetupDaylight
	}
	if err := s.engines.Orchestrator.RequestMode(ctx, target); err != nil {
		return nil, err
	}
	return &Empty{}, nil
}
