package service

import (
	"errors"

	"order-lifecycle/internal/apperror"
	"order-lifecycle/internal/store"

	"go.uber.org/zap"
)

// handleError converts err into an *apperror.Error at a component boundary.
// Typed errors pass through untouched; everything else is logged with its
// origin first.
func handleError(logger *zap.Logger, component, operation string, err error) error {
	if err == nil {
		return nil
	}

	if appErr, ok := apperror.As(err); ok {
		return appErr
	}

	fields := []zap.Field{
		zap.String("component", component),
		zap.String("operation", operation),
		zap.String("logger", logger.Name()),
		zap.Error(err),
	}

	if errors.Is(err, store.ErrDuplicate) {
		logger.Warn("Uniqueness violation", fields...)
		return apperror.Conflict(apperror.KeyDuplicatePayment, "payment already recorded", err)
	}

	logger.Error("Operation failed", append(fields, zap.Stack("stack"))...)
	return apperror.Internal(err)
}
