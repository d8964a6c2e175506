// internal/timeline/subscribers.go
package timeline

import (
	"fmt"
	"sync"
	"time"
)

// subscriberTTL is how long a remote can stay silent before it is
// dropped from the subscriber list.
const subscriberTTL = 90 * time.Second

// Subscriber is a Plex remote that asked to receive timeline updates.
// Poll-only remotes have no address and are never pushed to.
type Subscriber struct {
	UUID      string
	CommandID int
	Host      string
	Port      int
	Protocol  string
	Name      string

	lastSeen time.Time
}

// URL returns the remote's push endpoint base, "" for poll-only
// subscribers.
func (s *Subscriber) URL() string {
	if s.Host == "" {
		return ""
	}
	protocol := s.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return fmt.Sprintf("%s://%s:%d", protocol, s.Host, s.Port)
}

// subscriberList tracks remotes by client identifier and expires the
// ones that stopped refreshing.
type subscriberList struct {
	mu   sync.Mutex
	subs map[string]*Subscriber
}

func newSubscriberList() *subscriberList {
	return &subscriberList{subs: make(map[string]*Subscriber)}
}

// Add registers or refreshes a subscriber. The list keeps its own copy
// so callers never share state with the push loop.
func (l *subscriberList) Add(sub *Subscriber) {
	if sub == nil || sub.UUID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := *sub
	entry.lastSeen = time.Now()
	if _, ok := l.subs[sub.UUID]; !ok {
		log.Infof("remote %s (%s) subscribed", sub.Name, sub.UUID)
	}
	l.subs[sub.UUID] = &entry
}

// Remove drops a subscriber.
func (l *subscriberList) Remove(uuid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[uuid]; ok {
		log.Infof("remote %s unsubscribed", uuid)
		delete(l.subs, uuid)
	}
}

// Find returns a copy of the subscriber with the given client
// identifier, nil if unknown.
func (l *subscriberList) Find(uuid string) *Subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()
	sub, ok := l.subs[uuid]
	if !ok {
		return nil
	}
	cp := *sub
	return &cp
}

// UpdateCommandID refreshes the stored command id for a remote.
func (l *subscriberList) UpdateCommandID(uuid string, commandID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if sub, ok := l.subs[uuid]; ok {
		sub.CommandID = commandID
	}
}

// All returns a snapshot of the current subscribers, dropping the ones
// that have expired. The snapshot holds copies.
func (l *subscriberList) All() []*Subscriber {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	out := make([]*Subscriber, 0, len(l.subs))
	for uuid, sub := range l.subs {
		if now.Sub(sub.lastSeen) > subscriberTTL {
			log.Infof("remote %s expired", uuid)
			delete(l.subs, uuid)
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	return out
}
