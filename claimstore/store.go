package claimstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"xdao.co/claimstore/canonical"
	"xdao.co/claimstore/clock"
	"xdao.co/claimstore/identity"
	"xdao.co/claimstore/model"
)

// DefaultObserverBuffer is the per-observer queue length used when
// Options.ObserverBuffer is zero.
const DefaultObserverBuffer = 256

// Claim is a stored, immutable claim. ID is the owner's base64 signature
// over Data; Previous is the id of the owner's preceding claim or "".
type Claim struct {
	ID       string
	Data     any
	Previous string
	Access   AccessSpec
}

type channel struct {
	mu        sync.Mutex
	owner     string
	claims    map[string]*Claim
	order     []string
	last      string
	observers []*Observer
	access    AccessSpec
	evicted   bool
}

func newChannel(owner string) *channel {
	return &channel{owner: owner, claims: make(map[string]*Claim)}
}

// Options configures a Store.
type Options struct {
	Logger *slog.Logger
	Clock  clock.Clock
	// ObserverBuffer bounds each observer's pending-delivery queue.
	ObserverBuffer int
}

// Store is the claim store. The zero value is not usable; call New.
type Store struct {
	log     *slog.Logger
	clock   clock.Clock
	factory *identity.Factory
	buffer  int

	chMu     sync.RWMutex
	channels map[string]*channel

	ownMu  sync.RWMutex
	owners map[string]string

	certs *identity.Registry

	actMu    sync.Mutex
	activity map[string]time.Time

	globalMu sync.RWMutex
	global   []*Observer
}

func New(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	buffer := opts.ObserverBuffer
	if buffer <= 0 {
		buffer = DefaultObserverBuffer
	}
	s := &Store{
		log:      log.With("component", "claimstore"),
		clock:    clock.OrReal(opts.Clock),
		buffer:   buffer,
		channels: make(map[string]*channel),
		owners:   make(map[string]string),
		certs:    identity.NewRegistry(),
		activity: make(map[string]time.Time),
	}
	s.factory = identity.NewFactory(s)
	return s
}

// Factory returns the identity factory bound to this store's certificate
// registry.
func (s *Store) Factory() *identity.Factory { return s.factory }

// Claim verifies signature over payload with the identity named by
// ownerRef and appends the claim to the owner's channel. It returns the
// claim id, which equals signature. Resubmitting an accepted claim
// returns the same id and changes nothing, including any access grant it
// carries.
//
// override, when non-nil, is applied like a DISCIPL_ALLOW attribute; it
// is how imported claims grant access to their importer.
func (s *Store) Claim(ctx context.Context, ownerRef, signature string, payload any, override *AccessGrant) (string, error) {
	if ownerRef == "" || signature == "" {
		return "", model.NewError(model.KindInvalidRequest, "owner reference and signature are required")
	}
	data, err := canonical.Normalize(payload)
	if err != nil {
		return "", model.WrapError(model.KindInvalidRequest, "payload is not canonicalizable", err)
	}
	owner, err := s.factory.FromReference(ctx, ownerRef, nil)
	if err != nil {
		return "", err
	}
	if err := owner.Verify(data, signature); err != nil {
		s.log.Warn("rejected claim with invalid signature", "owner", ownerRef)
		return "", err
	}
	s.touch(ownerRef)

	var overflowed []*Observer
	for {
		ch := s.channelFor(ownerRef, true)
		ch.mu.Lock()
		if ch.evicted {
			ch.mu.Unlock()
			continue
		}

		if _, dup := ch.claims[signature]; dup {
			ch.mu.Unlock()
			s.log.Info("claim already exists", "owner", ownerRef, "claim_id", signature)
			return signature, nil
		}

		// A signature that verifies under two references still names a
		// single claim. The first owner keeps it.
		if !s.setOwner(signature, ownerRef) {
			ch.mu.Unlock()
			s.log.Warn("claim id already owned by another reference", "owner", ownerRef, "claim_id", signature)
			return signature, nil
		}

		c := &Claim{ID: signature, Data: data, Previous: ch.last}
		ch.claims[signature] = c
		ch.order = append(ch.order, signature)
		ch.last = signature

		if g, ok := grantFromPayload(data); ok {
			s.applyGrant(ch, g)
		} else if override != nil {
			s.applyGrant(ch, *override)
		}

		overflowed = s.notifyLocked(ch, c)
		ch.mu.Unlock()
		break
	}

	for _, o := range overflowed {
		s.log.Warn("observer overflowed and was dropped", "scope", o.scope, "accessor", o.owner)
		s.Unobserve(o)
	}
	return signature, nil
}

// notifyLocked enqueues c for every channel and global observer allowed
// to see it. The caller holds ch.mu. Observers whose queue overflowed
// are returned for removal once the lock is released.
func (s *Store) notifyLocked(ch *channel, c *Claim) []*Observer {
	rec := model.Observed{
		Claim:    model.ClaimView{Data: c.Data, Previous: c.Previous},
		OwnerRef: ch.owner,
		ClaimID:  c.ID,
	}
	var overflowed []*Observer
	for _, o := range ch.observers {
		if o.accepts(ch, c) && !o.offer(rec) {
			overflowed = append(overflowed, o)
		}
	}

	s.globalMu.RLock()
	defer s.globalMu.RUnlock()
	for _, o := range s.global {
		if o.accepts(ch, c) && !o.offer(rec) {
			overflowed = append(overflowed, o)
		}
	}
	return overflowed
}

// Import re-submits a claim exported from another store under its
// original signature and grants importerRef access to that claim. An
// empty importerRef makes the imported claim public.
func (s *Store) Import(ctx context.Context, ownerRef, claimID string, payload any, importerRef string) (string, error) {
	claimID = identity.ClaimIDFromLink(claimID)
	grant := &AccessGrant{Scope: claimID, DID: importerRef}
	return s.Claim(ctx, identity.ReferenceFromDID(ownerRef), claimID, payload, grant)
}

// Get returns the claim if accessorRef may see it. A supplied accessor
// signature (over claimID) that does not verify is an error; an unknown
// claim and a denied read both yield nil without error. Without a
// signature the caller is treated as anonymous.
func (s *Store) Get(ctx context.Context, claimID, accessorRef, accessorSignature string) (*model.ClaimView, error) {
	accessor, err := s.authenticate(ctx, accessorRef, accessorSignature, claimID)
	if err != nil {
		return nil, err
	}

	owner := s.ownerOf(claimID)
	if owner == "" {
		return nil, nil
	}
	ch := s.channelFor(owner, false)
	if ch == nil {
		return nil, nil
	}

	ch.mu.Lock()
	c, ok := ch.claims[claimID]
	if !ok {
		ch.mu.Unlock()
		return nil, nil
	}
	allowed := permitted(ch, c, accessor)
	data, prev := c.Data, c.Previous
	ch.mu.Unlock()

	if !allowed {
		s.log.Warn("denied claim read", "accessor", accessorRef, "claim_id", claimID)
		return nil, nil
	}
	cp, err := canonical.Normalize(data)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "copy claim data", err)
	}
	return &model.ClaimView{Data: cp, Previous: prev}, nil
}

// GetLatest returns the id of ownerRef's most recent claim, or "".
func (s *Store) GetLatest(_ context.Context, ownerRef string) (string, error) {
	ch := s.channelFor(ownerRef, false)
	if ch == nil {
		return "", nil
	}
	ch.mu.Lock()
	last, evicted := ch.last, ch.evicted
	ch.mu.Unlock()
	if evicted {
		return "", nil
	}
	s.touch(ownerRef)
	return last, nil
}

// GetOwner returns the reference that made claimID, or "".
func (s *Store) GetOwner(_ context.Context, claimID string) (string, error) {
	return s.ownerOf(claimID), nil
}

// RegisterCertificate records the certificate of a "crt:" identity. The
// certificate must hash to ref.
func (s *Store) RegisterCertificate(_ context.Context, ref string, certPEM []byte) error {
	id, err := identity.ParseCertificate(certPEM, nil)
	if err != nil {
		return model.WrapError(model.KindInvalidRequest, "register certificate", err)
	}
	if id.Reference() != ref {
		return model.Errorf(model.KindInvalidRequest, "certificate fingerprint %s does not match %s", id.Reference(), ref)
	}
	s.certs.Register(ref, id.CertificatePEM())
	s.touch(ref)
	s.log.Debug("registered certificate", "ref", ref)
	return nil
}

// ResolveCertificate returns the certificate registered for ref, or nil.
func (s *Store) ResolveCertificate(_ context.Context, ref string) ([]byte, error) {
	c, _ := s.certs.Resolve(ref)
	return c, nil
}

// authenticate verifies an accessor signature over message. It returns
// the authenticated reference, or "" when no credentials were supplied.
func (s *Store) authenticate(ctx context.Context, ref, signature, message string) (string, error) {
	if ref == "" || signature == "" {
		return "", nil
	}
	id, err := s.factory.FromReference(ctx, ref, nil)
	if err != nil {
		return "", err
	}
	if err := id.Verify(message, signature); err != nil {
		s.log.Warn("accessor authentication failed", "accessor", ref)
		return "", err
	}
	s.touch(ref)
	return ref, nil
}

func (s *Store) channelFor(ref string, create bool) *channel {
	s.chMu.RLock()
	ch := s.channels[ref]
	s.chMu.RUnlock()
	if ch != nil || !create {
		return ch
	}

	s.chMu.Lock()
	defer s.chMu.Unlock()
	if ch = s.channels[ref]; ch == nil {
		ch = newChannel(ref)
		s.channels[ref] = ch
	}
	return ch
}

// setOwner records ref as the owner of claimID unless another reference
// already owns it.
func (s *Store) setOwner(claimID, ref string) bool {
	s.ownMu.Lock()
	defer s.ownMu.Unlock()
	if cur, ok := s.owners[claimID]; ok && cur != ref {
		return false
	}
	s.owners[claimID] = ref
	return true
}

func (s *Store) ownerOf(claimID string) string {
	s.ownMu.RLock()
	defer s.ownMu.RUnlock()
	return s.owners[claimID]
}

func (s *Store) touch(ref string) {
	if ref == "" {
		return
	}
	now := s.clock.Now()
	s.actMu.Lock()
	defer s.actMu.Unlock()
	s.activity[ref] = now
}

// Stats is a point-in-time summary of the store's contents.
type Stats struct {
	Channels        int `json:"channels"`
	Claims          int `json:"claims"`
	Observers       int `json:"observers"`
	GlobalObservers int `json:"globalObservers"`
	Certificates    int `json:"certificates"`
	TrackedRefs     int `json:"trackedRefs"`
}

func (s *Store) Stats() Stats {
	var st Stats
	for _, ch := range s.snapshotChannels() {
		ch.mu.Lock()
		st.Channels++
		st.Claims += len(ch.claims)
		st.Observers += len(ch.observers)
		ch.mu.Unlock()
	}
	s.globalMu.RLock()
	st.GlobalObservers = len(s.global)
	s.globalMu.RUnlock()
	st.Certificates = s.certs.Len()
	s.actMu.Lock()
	st.TrackedRefs = len(s.activity)
	s.actMu.Unlock()
	return st
}

func (s *Store) snapshotChannels() []*channel {
	s.chMu.RLock()
	defer s.chMu.RUnlock()
	out := make([]*channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// Close stops every observer with ErrClosed. The store remains usable
// for reads and claims.
func (s *Store) Close() {
	for _, ch := range s.snapshotChannels() {
		ch.mu.Lock()
		obs := ch.observers
		ch.observers = nil
		ch.mu.Unlock()
		for _, o := range obs {
			o.stop(ErrClosed)
		}
	}
	s.globalMu.Lock()
	obs := s.global
	s.global = nil
	s.globalMu.Unlock()
	for _, o := range obs {
		o.stop(ErrClosed)
	}
}
