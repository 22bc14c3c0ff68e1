package connectjudge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/mcdev12/geotag/go/internal/models"
	"github.com/rs/zerolog/log"
)

const (
	// JudgeCaptureProcedure is the full procedure path of the judgment RPC
	JudgeCaptureProcedure = "/geotag.capture.v1.CaptureService/JudgeCapture"

	// UserHeader carries the caller's user id
	UserHeader = "Geotag-User-Id"
)

// JudgeCaptureRequest is the judgment RPC request body
type JudgeCaptureRequest struct {
	RoomID   uuid.UUID `json:"room_id"`
	TargetID uuid.UUID `json:"target_id"`
}

// Client calls a remote capture judge
type Client struct {
	userID uuid.UUID
	judge  *connect.Client[JudgeCaptureRequest, models.CaptureResult]
}

// NewClient creates a judge client for baseURL acting as userID
func NewClient(httpClient connect.HTTPClient, baseURL string, userID uuid.UUID, opts ...connect.ClientOption) *Client {
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &Client{
		userID: userID,
		judge: connect.NewClient[JudgeCaptureRequest, models.CaptureResult](
			httpClient,
			strings.TrimRight(baseURL, "/")+JudgeCaptureProcedure,
			opts...,
		),
	}
}

func (c *Client) JudgeCapture(ctx context.Context, roomID, targetID uuid.UUID) (models.CaptureResult, error) {
	req := connect.NewRequest(&JudgeCaptureRequest{RoomID: roomID, TargetID: targetID})
	req.Header().Set(UserHeader, c.userID.String())

	res, err := c.judge.CallUnary(ctx, req)
	if err != nil {
		return models.CaptureResult{}, fmt.Errorf("failed to judge capture: %w", err)
	}
	return *res.Msg, nil
}

// Judger produces a capture judgment for a hunter
type Judger interface {
	JudgeCapture(ctx context.Context, roomID, hunterID, targetID uuid.UUID) (models.CaptureResult, error)
}

// JudgerFunc adapts a function to Judger
type JudgerFunc func(ctx context.Context, roomID, hunterID, targetID uuid.UUID) (models.CaptureResult, error)

func (f JudgerFunc) JudgeCapture(ctx context.Context, roomID, hunterID, targetID uuid.UUID) (models.CaptureResult, error) {
	return f(ctx, roomID, hunterID, targetID)
}

// Service serves the judgment RPC
type Service struct {
	judger Judger
}

func NewService(judger Judger) *Service {
	return &Service{judger: judger}
}

func (s *Service) JudgeCapture(ctx context.Context, req *connect.Request[JudgeCaptureRequest]) (*connect.Response[models.CaptureResult], error) {
	hunterID, err := uuid.Parse(req.Header().Get(UserHeader))
	if err != nil {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("missing or invalid user id"))
	}
	if req.Msg.RoomID == uuid.Nil || req.Msg.TargetID == uuid.Nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("room_id and target_id are required"))
	}

	result, err := s.judger.JudgeCapture(ctx, req.Msg.RoomID, hunterID, req.Msg.TargetID)
	if err != nil {
		log.Error().Err(err).
			Str("room_id", req.Msg.RoomID.String()).
			Str("target_id", req.Msg.TargetID.String()).
			Msg("capture judgment failed")
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&result), nil
}

// NewHandler returns the path and handler serving s
func NewHandler(s *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	return JudgeCaptureProcedure, connect.NewUnaryHandler(JudgeCaptureProcedure, s.JudgeCapture, opts...)
}
