package handler

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/rl1809/stock-allocation/internal/core/domain"
	"github.com/rl1809/stock-allocation/internal/core/service"
)

var errBadRequest = errors.New("bad request")

// failure is how one service error surfaces on both transports.
type failure struct {
	status  int
	code    codes.Code
	outcome string
	message string
}

func classify(err error) failure {
	switch {
	case errors.Is(err, service.ErrDuplicateRequest):
		return failure{http.StatusConflict, codes.AlreadyExists, "duplicate", "duplicate request"}
	case errors.Is(err, domain.ErrSaleExists):
		return failure{http.StatusConflict, codes.AlreadyExists, "duplicate", err.Error()}
	case errors.Is(err, domain.ErrInsufficientStock):
		return failure{http.StatusConflict, codes.FailedPrecondition, "insufficient_stock", err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return failure{http.StatusNotFound, codes.NotFound, "not_found", err.Error()}
	case errors.Is(err, domain.ErrQuantityMismatch),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPolicy),
		errors.Is(err, errBadRequest):
		return failure{http.StatusBadRequest, codes.InvalidArgument, "invalid", err.Error()}
	case errors.Is(err, domain.ErrInvalidTransition):
		return failure{http.StatusConflict, codes.FailedPrecondition, "invalid_state", err.Error()}
	case errors.Is(err, domain.ErrConcurrentModification):
		return failure{http.StatusServiceUnavailable, codes.Aborted, "conflict", "too much contention, retry later"}
	case errors.Is(err, context.DeadlineExceeded):
		return failure{http.StatusGatewayTimeout, codes.DeadlineExceeded, "timeout", "deadline exceeded"}
	case errors.Is(err, context.Canceled):
		return failure{http.StatusServiceUnavailable, codes.Canceled, "canceled", "request canceled"}
	default:
		// ErrOverAllocation lands here too: it means a ledger bug, not a bad request.
		return failure{http.StatusInternalServerError, codes.Internal, "error", "internal error"}
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return classify(err).outcome
}
