package syncengine

import "sort"

// Presence tracks which peers are currently online. A peer is a member iff
// the last event applied for it was "online"; snapshots replace the set.
type Presence struct {
	online map[string]struct{}
}

// NewPresence returns an empty presence set.
func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// ApplySnapshot replaces the set wholesale.
func (p *Presence) ApplySnapshot(ids []string) {
	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			p.online[id] = struct{}{}
		}
	}
}

// ApplyOnline adds id. Adding a present id is a no-op.
func (p *Presence) ApplyOnline(id string) {
	if id == "" {
		return
	}
	p.online[id] = struct{}{}
}

// ApplyOffline removes id. Removing an absent id is a no-op.
func (p *Presence) ApplyOffline(id string) {
	delete(p.online, id)
}

// IsOnline reports membership.
func (p *Presence) IsOnline(id string) bool {
	_, ok := p.online[id]
	return ok
}

// Online returns the members in ascending order.
func (p *Presence) Online() []string {
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of online peers.
func (p *Presence) Len() int { return len(p.online) }

// Handle applies presence events and ignores everything else.
func (p *Presence) Handle(ev InboundEvent) {
	switch e := ev.(type) {
	case FriendsOnline:
		p.ApplySnapshot(e.UserIDs)
	case UserOnline:
		p.ApplyOnline(e.UserID)
	case UserOffline:
		p.ApplyOffline(e.UserID)
	}
}
