package server

import (
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/query"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var kindCodes = map[string]codes.Code{
	"Unauthorized":               codes.PermissionDenied,
	"InvalidConfiguration":       codes.InvalidArgument,
	"ArithmeticOverflow":         codes.OutOfRange,
	"ArithmeticUnderflow":        codes.OutOfRange,
	"InsufficientVaultBalance":   codes.FailedPrecondition,
	"InsufficientBackendBalance": codes.FailedPrecondition,
	"InsufficientPayout":         codes.FailedPrecondition,
	"TransferFailed":             codes.Aborted,
	"NotInitialized":             codes.FailedPrecondition,
	"AlreadyInitialized":         codes.AlreadyExists,
	"UnknownUser":                codes.NotFound,
}

// toStatus maps a command or query error to a gRPC status. The message
// keeps the taxonomy name so clients can branch on it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	}

	kind := ledger.Kind(err)
	if code, ok := kindCodes[kind]; ok {
		return status.Errorf(code, "%s: %v", kind, err)
	}
	return status.Errorf(codes.Internal, "%v", err)
}
