package claimstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"xdao.co/claimstore/canonical"
)

// StateVersion is bumped whenever State changes incompatibly.
const StateVersion = 1

// State is the persistable content of a Store. Observers are live
// connections and are never part of it.
type State struct {
	Version      int               `cbor:"version"`
	Channels     []ChannelState    `cbor:"channels"`
	Certificates map[string][]byte `cbor:"certificates,omitempty"`
	// Activity maps references to their last-touched time in Unix
	// nanoseconds.
	Activity map[string]int64 `cbor:"activity,omitempty"`
}

// ChannelState is one owner's channel with claims in chain order.
type ChannelState struct {
	Owner  string       `cbor:"owner"`
	Access AccessSpec   `cbor:"access"`
	Claims []ClaimState `cbor:"claims"`
}

// ClaimState holds claim data as canonical JSON so the snapshot encoding
// never has to interpret arbitrary claim values.
type ClaimState struct {
	ID       string     `cbor:"id"`
	Data     []byte     `cbor:"data"`
	Previous string     `cbor:"previous,omitempty"`
	Access   AccessSpec `cbor:"access"`
}

// Export captures the store. Channels are sorted by owner so equal
// stores export equal states.
func (s *Store) Export() (*State, error) {
	st := &State{
		Version:      StateVersion,
		Certificates: s.certs.All(),
		Activity:     make(map[string]int64),
	}
	chans := s.snapshotChannels()
	sort.Slice(chans, func(i, j int) bool { return chans[i].owner < chans[j].owner })

	for _, ch := range chans {
		ch.mu.Lock()
		if ch.evicted {
			ch.mu.Unlock()
			continue
		}
		cs := ChannelState{Owner: ch.owner, Access: ch.access.clone()}
		for _, id := range ch.order {
			c := ch.claims[id]
			data, err := canonical.Marshal(c.Data)
			if err != nil {
				ch.mu.Unlock()
				return nil, fmt.Errorf("export claim %s: %w", id, err)
			}
			cs.Claims = append(cs.Claims, ClaimState{
				ID:       c.ID,
				Data:     data,
				Previous: c.Previous,
				Access:   c.Access.clone(),
			})
		}
		ch.mu.Unlock()
		st.Channels = append(st.Channels, cs)
	}

	s.actMu.Lock()
	for ref, t := range s.activity {
		st.Activity[ref] = t.UnixNano()
	}
	s.actMu.Unlock()
	return st, nil
}

// Load replaces the store's claims, certificates and activity with st.
// Existing observers stay registered. Chains are checked: every claim's
// Previous must name the claim before it.
func (s *Store) Load(st *State) error {
	if st == nil {
		return fmt.Errorf("load: nil state")
	}
	if st.Version != StateVersion {
		return fmt.Errorf("load: unsupported state version %d", st.Version)
	}

	channels := make(map[string]*channel, len(st.Channels))
	owners := make(map[string]string)
	for _, cs := range st.Channels {
		if cs.Owner == "" {
			return fmt.Errorf("load: channel without owner")
		}
		ch := newChannel(cs.Owner)
		ch.access = cs.Access.clone()
		prev := ""
		for _, c := range cs.Claims {
			if c.Previous != prev {
				return fmt.Errorf("load: broken chain for %s at claim %s", cs.Owner, c.ID)
			}
			data, err := decodeData(c.Data)
			if err != nil {
				return fmt.Errorf("load: claim %s: %w", c.ID, err)
			}
			ch.claims[c.ID] = &Claim{ID: c.ID, Data: data, Previous: c.Previous, Access: c.Access.clone()}
			ch.order = append(ch.order, c.ID)
			owners[c.ID] = cs.Owner
			prev = c.ID
		}
		ch.last = prev
		channels[cs.Owner] = ch
	}

	s.chMu.Lock()
	for ref, old := range s.channels {
		old.mu.Lock()
		if nc, ok := channels[ref]; ok {
			nc.observers = old.observers
		} else if len(old.observers) > 0 {
			nc := newChannel(ref)
			nc.observers = old.observers
			channels[ref] = nc
		}
		old.observers = nil
		old.evicted = true
		old.mu.Unlock()
	}
	s.channels = channels
	s.chMu.Unlock()

	s.ownMu.Lock()
	s.owners = owners
	s.ownMu.Unlock()

	for ref := range s.certs.All() {
		s.certs.Delete(ref)
	}
	for ref, pem := range st.Certificates {
		s.certs.Register(ref, pem)
	}

	s.actMu.Lock()
	s.activity = make(map[string]time.Time, len(st.Activity))
	for ref, ns := range st.Activity {
		s.activity[ref] = time.Unix(0, ns)
	}
	s.actMu.Unlock()

	s.log.Info("store state loaded", "channels", len(channels), "claims", len(owners))
	return nil
}

func decodeData(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return canonical.Normalize(v)
}
