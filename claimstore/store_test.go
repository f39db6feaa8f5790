package claimstore

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/model"
)

func TestClaim_BeerWineScenario(t *testing.T) {
	s := newTestStore(t, Options{})
	a, b := newIdentity(t), newIdentity(t)

	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})
	l2 := mustClaim(t, s, a, map[string]any{"need": "wine"})

	first := getAs(t, s, l1, a)
	require.NotNil(t, first)
	assert.Equal(t, "", first.Previous)

	view := getAs(t, s, l2, a)
	require.NotNil(t, view)
	assert.Equal(t, map[string]any{"need": "wine"}, view.Data)
	assert.Equal(t, l1, view.Previous)

	assert.Nil(t, getAs(t, s, l2, b))

	mustClaim(t, s, a, allow(identity.DID(b.Reference())))

	asB := getAs(t, s, l2, b)
	require.NotNil(t, asB)
	assert.Equal(t, view, asB)
}

func TestClaim_Idempotent(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)
	_, rec := observeAs(t, s, a.Reference(), a, nil)

	first := mustClaim(t, s, a, map[string]any{"need": "beer"})
	second := mustClaim(t, s, a, map[string]any{"need": "beer"})

	assert.Equal(t, first, second)
	assert.Equal(t, 1, s.Stats().Claims)
	latest, err := s.GetLatest(context.Background(), a.Reference())
	require.NoError(t, err)
	assert.Equal(t, first, latest)

	rec.next(t)
	rec.expectNone(t)
}

func TestClaim_DuplicateGrantHasNoEffect(t *testing.T) {
	s := newTestStore(t, Options{})
	a, b := newIdentity(t), newIdentity(t)
	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})

	grant := allow(b.Reference())
	sig, err := a.Sign(grant)
	require.NoError(t, err)
	_, err = s.Claim(context.Background(), a.Reference(), sig, grant, nil)
	require.NoError(t, err)
	require.NotNil(t, getAs(t, s, l1, b))

	// A replay carrying an out-of-band override changes nothing.
	_, err = s.Claim(context.Background(), a.Reference(), sig, grant, &AccessGrant{})
	require.NoError(t, err)
	assert.Nil(t, getAs(t, s, l1, nil))
}

func TestClaim_ChainIntegrity(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, mustClaim(t, s, a, map[string]any{"n": i}))
	}
	for i, id := range ids {
		v := getAs(t, s, id, a)
		require.NotNil(t, v)
		if i == 0 {
			assert.Equal(t, "", v.Previous)
		} else {
			assert.Equal(t, ids[i-1], v.Previous)
		}
		assert.Equal(t, map[string]any{"n": float64(i)}, v.Data)
	}
	latest, err := s.GetLatest(context.Background(), a.Reference())
	require.NoError(t, err)
	assert.Equal(t, ids[len(ids)-1], latest)
}

func TestClaim_TamperedPayloadOrSignatureIsRejected(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)
	ctx := context.Background()

	sig, err := a.Sign(map[string]any{"need": "beer"})
	require.NoError(t, err)

	_, err = s.Claim(ctx, a.Reference(), sig, map[string]any{"need": "bees"}, nil)
	assert.True(t, model.IsKind(err, model.KindInvalidSignature), "got %v", err)

	tampered := []byte(sig)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}
	_, err = s.Claim(ctx, a.Reference(), string(tampered), map[string]any{"need": "beer"}, nil)
	assert.True(t, model.IsKind(err, model.KindInvalidSignature), "got %v", err)

	latest, err := s.GetLatest(ctx, a.Reference())
	require.NoError(t, err)
	assert.Equal(t, "", latest)
	assert.Equal(t, Stats{}, s.Stats())
}

// respell flips a pad bit of the last base64 data character, giving a
// string that lenient decoders map to the same bytes.
func respell(t *testing.T, s string) string {
	t.Helper()
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	i := strings.IndexByte(s, '=') - 1
	require.GreaterOrEqual(t, i, 0)
	return s[:i] + string(alphabet[strings.IndexByte(alphabet, s[i])^1]) + s[i+1:]
}

func TestClaim_RespelledSignatureIsRejected(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)
	ctx := context.Background()
	payload := map[string]any{"need": "beer"}
	l1 := mustClaim(t, s, a, payload)

	_, err := s.Claim(ctx, a.Reference(), respell(t, l1), payload, nil)
	assert.True(t, model.IsKind(err, model.KindInvalidSignature), "got %v", err)

	assert.Equal(t, 1, s.Stats().Claims)
	latest, err := s.GetLatest(ctx, a.Reference())
	require.NoError(t, err)
	assert.Equal(t, l1, latest)
}

func TestClaim_RespelledOwnerReferenceIsRejected(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)
	ctx := context.Background()
	payload := map[string]any{"need": "beer"}
	l1 := mustClaim(t, s, a, payload)

	ref := a.Reference()
	alt := ref[:3] + respell(t, ref[3:])
	_, err := s.Claim(ctx, alt, l1, payload, nil)
	assert.True(t, model.IsKind(err, model.KindUnknownIdentity), "got %v", err)

	owner, err := s.GetOwner(ctx, l1)
	require.NoError(t, err)
	assert.Equal(t, ref, owner)
	assert.NotNil(t, getAs(t, s, l1, a))
}

func TestClaim_FirstOwnerKeepsClaimID(t *testing.T) {
	s := newTestStore(t, Options{})
	a, b := newIdentity(t), newIdentity(t)
	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})

	assert.False(t, s.setOwner(l1, b.Reference()))
	assert.True(t, s.setOwner(l1, a.Reference()))
	owner, err := s.GetOwner(context.Background(), l1)
	require.NoError(t, err)
	assert.Equal(t, a.Reference(), owner)
}

func TestClaim_InvalidUTF8PayloadIsRejected(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)

	_, err := a.Sign(map[string]any{"need": "\xff"})
	require.Error(t, err)

	// A signature computed by a lenient signer must not cover other bytes.
	sig, err := a.Sign(map[string]any{"need": "\ufffd"})
	require.NoError(t, err)
	_, err = s.Claim(context.Background(), a.Reference(), sig, map[string]any{"need": "\xfe"}, nil)
	assert.True(t, model.IsKind(err, model.KindInvalidRequest), "got %v", err)
	assert.Equal(t, Stats{}, s.Stats())
}

func TestClaim_UnknownIdentity(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.Claim(context.Background(), "crt:0000", "c2ln", map[string]any{}, nil)
	assert.True(t, model.IsKind(err, model.KindUnknownIdentity), "got %v", err)

	_, err = s.Claim(context.Background(), "nope", "c2ln", map[string]any{}, nil)
	assert.True(t, model.IsKind(err, model.KindUnknownIdentity), "got %v", err)
}

func TestClaim_ConcurrentDuplicatesStoreOnce(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)
	payload := map[string]any{"need": "beer"}
	sig, err := a.Sign(payload)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Claim(context.Background(), a.Reference(), sig, payload, nil)
			assert.NoError(t, err)
			assert.Equal(t, sig, id)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, s.Stats().Claims)
}

func TestGet_DefaultDenyAndAnonymous(t *testing.T) {
	s := newTestStore(t, Options{})
	a, b := newIdentity(t), newIdentity(t)
	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})

	assert.NotNil(t, getAs(t, s, l1, a))
	assert.Nil(t, getAs(t, s, l1, b))
	assert.Nil(t, getAs(t, s, l1, nil))

	// A bare reference without a signature is anonymous, even the owner's.
	v, err := s.Get(context.Background(), l1, a.Reference(), "")
	require.NoError(t, err)
	assert.Nil(t, v)

	// Unknown ids look exactly like denied ones.
	assert.Nil(t, getAs(t, s, "bm90IGEgY2xhaW0=", a))
}

func TestGet_InvalidAccessorSignatureIsAnError(t *testing.T) {
	s := newTestStore(t, Options{})
	a, b := newIdentity(t), newIdentity(t)
	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})

	wrong, err := b.Sign("something else")
	require.NoError(t, err)
	_, err = s.Get(context.Background(), l1, b.Reference(), wrong)
	assert.True(t, model.IsKind(err, model.KindInvalidSignature), "got %v", err)
}

func TestGet_ReturnsDeepCopy(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)
	l1 := mustClaim(t, s, a, map[string]any{"wants": []any{"one", "two"}})

	v := getAs(t, s, l1, a)
	v.Data.(map[string]any)["wants"].([]any)[0] = "changed"

	again := getAs(t, s, l1, a)
	assert.Equal(t, map[string]any{"wants": []any{"one", "two"}}, again.Data)
}

func TestAccess_PublicNeverNarrows(t *testing.T) {
	s := newTestStore(t, Options{})
	a, b, c := newIdentity(t), newIdentity(t), newIdentity(t)
	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})

	mustClaim(t, s, a, allow(""))
	assert.NotNil(t, getAs(t, s, l1, c))
	assert.NotNil(t, getAs(t, s, l1, nil))

	mustClaim(t, s, a, allow(b.Reference()))
	assert.NotNil(t, getAs(t, s, l1, c))
	assert.NotNil(t, getAs(t, s, l1, nil))
}

func TestAccess_ClaimScopedGrant(t *testing.T) {
	s := newTestStore(t, Options{})
	a, b := newIdentity(t), newIdentity(t)
	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})
	l2 := mustClaim(t, s, a, map[string]any{"need": "wine"})

	mustClaim(t, s, a, allowScoped(identity.Link(l1), identity.DID(b.Reference())))

	assert.NotNil(t, getAs(t, s, l1, b))
	assert.Nil(t, getAs(t, s, l2, b))
}

func TestAccess_ScopeOwnedByOtherIdentityAppliesToChannel(t *testing.T) {
	s := newTestStore(t, Options{})
	a, b, c := newIdentity(t), newIdentity(t), newIdentity(t)
	foreign := mustClaim(t, s, c, map[string]any{"need": "tea"})
	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})

	mustClaim(t, s, a, allowScoped(identity.Link(foreign), b.Reference()))

	assert.NotNil(t, getAs(t, s, l1, b))
	assert.Nil(t, getAs(t, s, foreign, b))
}

func TestGetOwner(t *testing.T) {
	s := newTestStore(t, Options{})
	a := newIdentity(t)
	l1 := mustClaim(t, s, a, map[string]any{"need": "beer"})

	owner, err := s.GetOwner(context.Background(), l1)
	require.NoError(t, err)
	assert.Equal(t, a.Reference(), owner)

	owner, err = s.GetOwner(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, "", owner)
}

func TestCertificateIdentityClaims(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	certPEM, err := os.ReadFile("../identity/testdata/cert.pem")
	require.NoError(t, err)
	keyPEM, err := os.ReadFile("../identity/testdata/key.pem")
	require.NoError(t, err)

	crt, err := s.Factory().FromCertificate(ctx, certPEM, keyPEM)
	require.NoError(t, err)
	assert.Equal(t, "crt:aadf2a1b0c91d6d24edfc8a3d788572362dd6ba4", crt.Reference())

	resolved, err := s.ResolveCertificate(ctx, crt.Reference())
	require.NoError(t, err)
	assert.NotEmpty(t, resolved)

	l1 := mustClaim(t, s, crt, map[string]any{"need": "beer"})
	mustClaim(t, s, crt, allow(""))
	v := getAs(t, s, l1, nil)
	require.NotNil(t, v)
	assert.Equal(t, map[string]any{"need": "beer"}, v.Data)
}

func TestRegisterCertificate_RejectsMismatchedReference(t *testing.T) {
	s := newTestStore(t, Options{})
	certPEM, err := os.ReadFile("../identity/testdata/cert.pem")
	require.NoError(t, err)

	err = s.RegisterCertificate(context.Background(), "crt:deadbeef", certPEM)
	assert.True(t, model.IsKind(err, model.KindInvalidRequest), "got %v", err)
	assert.Equal(t, 0, s.Stats().Certificates)
}

func TestImport_GrantsImporter(t *testing.T) {
	ctx := context.Background()
	origin := newTestStore(t, Options{})
	target := newTestStore(t, Options{})
	a, b := newIdentity(t), newIdentity(t)

	l1 := mustClaim(t, origin, a, map[string]any{"need": "beer"})
	exported := getAs(t, origin, l1, a)
	require.NotNil(t, exported)

	id, err := target.Import(ctx, identity.DID(a.Reference()), identity.Link(l1), exported.Data, b.Reference())
	require.NoError(t, err)
	assert.Equal(t, l1, id)

	assert.NotNil(t, getAs(t, target, l1, b))
	assert.Nil(t, getAs(t, target, l1, nil))

	other := mustClaim(t, target, a, map[string]any{"need": "wine"})
	assert.Nil(t, getAs(t, target, other, b))
}

func TestImport_RejectsForgedData(t *testing.T) {
	origin := newTestStore(t, Options{})
	target := newTestStore(t, Options{})
	a := newIdentity(t)
	l1 := mustClaim(t, origin, a, map[string]any{"need": "beer"})

	_, err := target.Import(context.Background(), a.Reference(), l1, map[string]any{"need": "gin"}, "")
	assert.True(t, model.IsKind(err, model.KindInvalidSignature), "got %v", err)
}
