package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-lifecycle/internal/apperror"
	"order-lifecycle/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// HandlerFunc serves one pattern. A returned *apperror.Error travels back to
// the caller as is; any other error is reported as INTERNAL_SERVER_ERROR.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (interface{}, error)

// Server consumes requests addressed to one service.
type Server struct {
	rdb         *redis.Client
	service     string
	handlers    map[string]HandlerFunc
	pollTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewServer creates a new RPC server for service
func NewServer(rdb *redis.Client, service string) *Server {
	return &Server{
		rdb:         rdb,
		service:     service,
		handlers:    make(map[string]HandlerFunc),
		pollTimeout: time.Second,
		now:         time.Now,
		logger:      util.ComponentLogger("rpc.server"),
	}
}

// Handle registers h for pattern
func (s *Server) Handle(pattern string, h HandlerFunc) {
	s.handlers[pattern] = h
}

// Serve processes requests until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting RPC server", zap.String("service", s.service))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		res, err := s.rdb.BLPop(ctx, s.pollTimeout, requestKey(s.service)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("Error fetching RPC request", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var req request
		if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
			s.logger.Error("Dropping malformed RPC request", zap.Error(err))
			continue
		}

		if req.Deadline > 0 && s.now().UnixMilli() > req.Deadline {
			s.logger.Warn("Dropping expired RPC request",
				zap.String("pattern", req.Pattern),
				zap.String("id", req.ID))
			continue
		}

		if err := s.respond(ctx, req.ReplyTo, s.handle(ctx, req)); err != nil {
			s.logger.Error("Failed to send RPC reply",
				zap.String("pattern", req.Pattern),
				zap.String("id", req.ID),
				zap.Error(err))
		}
	}
}

func (s *Server) handle(ctx context.Context, req request) reply {
	handler, ok := s.handlers[req.Pattern]
	if !ok {
		return reply{ID: req.ID, Error: apperror.BadRequest(apperror.KeyInvalidInput,
			fmt.Sprintf("no handler for pattern %s", req.Pattern))}
	}

	data, err := handler(ctx, req.Data)
	if err != nil {
		appErr, typed := apperror.As(err)
		if !typed {
			s.logger.Error("RPC handler failed",
				zap.String("pattern", req.Pattern),
				zap.Error(err))
			appErr = apperror.Internal(err)
		}
		return reply{ID: req.ID, Error: appErr}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return reply{ID: req.ID, Error: apperror.Internal(err)}
	}
	return reply{ID: req.ID, Data: raw}
}

func (s *Server) respond(ctx context.Context, replyTo string, r reply) error {
	msg, err := json.Marshal(r)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, replyTo, msg)
		pipe.Expire(ctx, replyTo, replyTTL)
		return nil
	})
	return err
}
