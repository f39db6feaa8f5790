package claimrpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/claimstore/model"
)

func TestFromStatus_RoundTripsStoreKinds(t *testing.T) {
	for kind := range kindCodes {
		err := fromStatus(toStatus(model.Errorf(kind, "boom %d", 7)))
		var merr *model.Error
		require.ErrorAs(t, err, &merr, "kind %s", kind)
		assert.Equal(t, kind, merr.Kind)
		assert.Equal(t, "boom 7", merr.Message)
	}
}

func TestFromStatus_LeavesTransportStatusesAlone(t *testing.T) {
	for _, err := range []error{
		status.Error(codes.DeadlineExceeded, "context deadline exceeded"),
		status.Error(codes.Unavailable, "connection refused"),
		status.Error(codes.Internal, "TIMEOUT: wrong code for the kind"),
		toStatus(context.DeadlineExceeded),
	} {
		got := fromStatus(err)
		assert.Equal(t, err, got)
		assert.False(t, model.IsKind(got, model.KindTimeout), "got %v", got)
	}
}

func TestClaims_CallDeadlineIsNotARendezvousTimeout(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.client.GetLatest(ctx, newIdentity(t).Reference())
	require.Error(t, err)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
	assert.False(t, model.IsKind(err, model.KindTimeout), "got %v", err)
}
