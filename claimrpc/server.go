package claimrpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/rendezvous"
)

// Server exposes a claimstore.Store over the Claims gRPC service.
// Observe registrations are handed to Rendezvous; a nil Rendezvous
// leaves Observe unimplemented.
type Server struct {
	UnimplementedClaimsServer
	Store      *claimstore.Store
	Rendezvous *rendezvous.Server
	Logger     *slog.Logger
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) ready() error {
	if s == nil || s.Store == nil {
		return status.Error(codes.FailedPrecondition, "missing store")
	}
	return nil
}

func (s *Server) Claim(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	owner, err := requiredString(in, fieldOwnerRef)
	if err != nil {
		return nil, toStatus(err)
	}
	sig, err := requiredString(in, fieldSignature)
	if err != nil {
		return nil, toStatus(err)
	}
	override, err := decodeGrant(in)
	if err != nil {
		return nil, toStatus(err)
	}
	id, err := s.Store.Claim(ctx, owner, sig, anyField(in, fieldData), override)
	if err != nil {
		s.logger().Warn("claim rejected", "owner", owner, "err", err)
		return nil, toStatus(err)
	}
	return wrapperspb.String(id), nil
}

func (s *Server) Import(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	owner, err := requiredString(in, fieldOwnerRef)
	if err != nil {
		return nil, toStatus(err)
	}
	claimID, err := requiredString(in, fieldClaimID)
	if err != nil {
		return nil, toStatus(err)
	}
	importer, err := stringField(in, fieldImporterRef)
	if err != nil {
		return nil, toStatus(err)
	}
	id, err := s.Store.Import(ctx, owner, claimID, anyField(in, fieldData), importer)
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(id), nil
}

func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	claimID, err := requiredString(in, fieldClaimID)
	if err != nil {
		return nil, toStatus(err)
	}
	accessor, err := stringField(in, fieldAccessorRef)
	if err != nil {
		return nil, toStatus(err)
	}
	sig, err := stringField(in, fieldAccessorSignature)
	if err != nil {
		return nil, toStatus(err)
	}
	view, err := s.Store.Get(ctx, claimID, accessor, sig)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := encodeView(view)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

func (s *Server) GetLatest(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	id, err := s.Store.GetLatest(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(id), nil
}

func (s *Server) GetOwner(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ref, err := s.Store.GetOwner(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(ref), nil
}

func (s *Server) RegisterCertificate(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	ref, err := requiredString(in, fieldRef)
	if err != nil {
		return nil, toStatus(err)
	}
	pem, err := requiredString(in, fieldCertificate)
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.Store.RegisterCertificate(ctx, ref, []byte(pem)); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) ResolveCertificate(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	pem, err := s.Store.ResolveCertificate(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(string(pem)), nil
}

// Observe binds the stream the caller announced under nonce to a new
// subscription. NotFound means the stream has not arrived yet and the
// caller should retry.
func (s *Server) Observe(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if s.Rendezvous == nil {
		return s.UnimplementedClaimsServer.Observe(ctx, in)
	}
	nonce, err := requiredString(in, fieldNonce)
	if err != nil {
		return nil, toStatus(err)
	}
	var req claimstore.ObserveRequest
	if req.Scope, err = stringField(in, fieldScope); err != nil {
		return nil, toStatus(err)
	}
	if req.AccessorRef, err = stringField(in, fieldAccessorRef); err != nil {
		return nil, toStatus(err)
	}
	if req.AccessorSignature, err = stringField(in, fieldAccessorSignature); err != nil {
		return nil, toStatus(err)
	}
	if req.Predicate, err = decodePredicate(in); err != nil {
		return nil, toStatus(err)
	}

	if err := s.Rendezvous.Register(ctx, nonce, req); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}
