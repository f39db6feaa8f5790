package claimrpc

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/claimstore/model"
)

var kindCodes = map[model.Kind]codes.Code{
	model.KindInvalidSignature: codes.Unauthenticated,
	model.KindUnknownIdentity:  codes.FailedPrecondition,
	model.KindNotFound:         codes.NotFound,
	model.KindTimeout:          codes.DeadlineExceeded,
	model.KindInvalidRequest:   codes.InvalidArgument,
	model.KindInternal:         codes.Internal,
}

// toStatus maps store errors onto gRPC status codes. The status message
// of a model.Error is "<KIND>: <message>" so the client can tell it apart
// from a status raised by the transport with the same code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	var e *model.Error
	if errors.As(err, &e) {
		if code, ok := kindCodes[e.Kind]; ok {
			return status.Error(code, string(e.Kind)+": "+e.Message)
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus is the inverse of toStatus on the client side. Statuses
// that toStatus did not build from a model.Error (transport failures,
// call deadlines, cancellation) are returned unchanged.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	kind, msg, ok := strings.Cut(st.Message(), ": ")
	if !ok {
		return err
	}
	if code, known := kindCodes[model.Kind(kind)]; !known || code != st.Code() {
		return err
	}
	return &model.Error{Kind: model.Kind(kind), Message: msg, Cause: err}
}
