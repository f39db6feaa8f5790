package claimrpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/claimstore/claimstore"
	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/model"
)

var _ identity.CertificateDirectory = (*Client)(nil)

// Client calls a remote Claims service. Errors carry the same
// model.Kind the remote store reported.
type Client struct {
	cc     *grpc.ClientConn
	client ClaimsClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

type DialOptions struct {
	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra is appended to the default dial options (tests pass a
	// bufconn dialer here).
	Extra []grpc.DialOption
}

// Dial connects to target without transport security. The connection is
// established lazily on the first call.
func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, model.WrapError(model.KindInvalidRequest, "dial "+target, err)
	}
	return &Client{cc: cc, client: NewClaimsClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}

// Claim submits a signed claim. override is optional.
func (c *Client) Claim(ctx context.Context, ownerRef, signature string, payload any, override *claimstore.AccessGrant) (string, error) {
	data, err := toValue(payload)
	if err != nil {
		return "", err
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOwnerRef:  structpb.NewStringValue(ownerRef),
		fieldSignature: structpb.NewStringValue(signature),
		fieldData:      data,
	}}
	if override != nil {
		g, err := structpb.NewValue(encodeGrant(override))
		if err != nil {
			return "", model.WrapError(model.KindInvalidRequest, "encode grant", err)
		}
		in.Fields[fieldAllow] = g
	}

	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.client.Claim(ctx, in)
	if err != nil {
		return "", fromStatus(err)
	}
	return out.GetValue(), nil
}

func (c *Client) Import(ctx context.Context, ownerRef, claimID string, payload any, importerRef string) (string, error) {
	data, err := toValue(payload)
	if err != nil {
		return "", err
	}
	in := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldOwnerRef:    structpb.NewStringValue(ownerRef),
		fieldClaimID:     structpb.NewStringValue(claimID),
		fieldData:        data,
		fieldImporterRef: structpb.NewStringValue(importerRef),
	}}

	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.client.Import(ctx, in)
	if err != nil {
		return "", fromStatus(err)
	}
	return out.GetValue(), nil
}

// Get returns (nil, nil) when the claim is unknown or not readable by
// the accessor.
func (c *Client) Get(ctx context.Context, claimID, accessorRef, accessorSignature string) (*model.ClaimView, error) {
	in, err := newStruct(map[string]any{
		fieldClaimID:           claimID,
		fieldAccessorRef:       accessorRef,
		fieldAccessorSignature: accessorSignature,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.client.Get(ctx, in)
	if err != nil {
		return nil, fromStatus(err)
	}
	return decodeView(out)
}

func (c *Client) GetLatest(ctx context.Context, ownerRef string) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.client.GetLatest(ctx, wrapperspb.String(ownerRef))
	if err != nil {
		return "", fromStatus(err)
	}
	return out.GetValue(), nil
}

func (c *Client) GetOwner(ctx context.Context, claimID string) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.client.GetOwner(ctx, wrapperspb.String(claimID))
	if err != nil {
		return "", fromStatus(err)
	}
	return out.GetValue(), nil
}

func (c *Client) RegisterCertificate(ctx context.Context, ref string, certPEM []byte) error {
	in, err := newStruct(map[string]any{fieldRef: ref, fieldCertificate: string(certPEM)})
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	_, err = c.client.RegisterCertificate(ctx, in)
	return fromStatus(err)
}

// ResolveCertificate returns (nil, nil) for an unregistered reference.
func (c *Client) ResolveCertificate(ctx context.Context, ref string) ([]byte, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	out, err := c.client.ResolveCertificate(ctx, wrapperspb.String(ref))
	if err != nil {
		return nil, fromStatus(err)
	}
	if out.GetValue() == "" {
		return nil, nil
	}
	return []byte(out.GetValue()), nil
}

// Register sends one rendezvous registration for the stream announced
// under nonce. Its signature fits rendezvous.RegisterFunc once req is
// bound.
func (c *Client) Register(ctx context.Context, nonce string, req claimstore.ObserveRequest) error {
	fields := map[string]*structpb.Value{
		fieldNonce:             structpb.NewStringValue(nonce),
		fieldScope:             structpb.NewStringValue(req.Scope),
		fieldAccessorRef:       structpb.NewStringValue(req.AccessorRef),
		fieldAccessorSignature: structpb.NewStringValue(req.AccessorSignature),
	}
	if len(req.Predicate) > 0 {
		pred, err := toValue(req.Predicate)
		if err != nil {
			return err
		}
		fields[fieldPredicate] = pred
	}

	ctx, cancel := c.ctx(ctx)
	defer cancel()
	_, err := c.client.Observe(ctx, &structpb.Struct{Fields: fields})
	return fromStatus(err)
}
