// Package events provides the in-process pub/sub channel that carries
// lifecycle and health notifications between the manager, the monitor and
// external subscribers. Topics are dotted strings, payloads are typed
// structs, and dispatch is synchronous in subscription order.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrCompleted is returned by Publish after the subject has been completed.
var ErrCompleted = errors.New("events: subject completed")

// Subject is a topic-keyed set of subscriptions. The zero value is not
// usable; create one with NewSubject.
type Subject struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	nextID uint64
	done   bool
}

// Subscription represents one registered handler. Unsubscribe detaches it;
// it is safe to call more than once.
type Subscription struct {
	subject *Subject
	topic   string
	id      uint64
	deliver func(context.Context, any) error
}

// NewSubject creates an empty subject.
func NewSubject() *Subject {
	return &Subject{subs: make(map[string][]*Subscription)}
}

// Subscribe registers handler for events of type T published on topic.
// Events published on the topic with a different payload type are skipped
// for this subscription. Subscribing to a completed subject returns an
// inert subscription.
func Subscribe[T any](s *Subject, topic string, handler func(ctx context.Context, evt T) error) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return &Subscription{}
	}
	s.nextID++
	sub := &Subscription{
		subject: s,
		topic:   topic,
		id:      s.nextID,
		deliver: func(ctx context.Context, v any) error {
			evt, ok := v.(T)
			if !ok {
				return nil
			}
			return handler(ctx, evt)
		},
	}
	s.subs[topic] = append(s.subs[topic], sub)
	return sub
}

// Publish delivers evt to every current subscription on topic, in
// subscription order, and returns the handler errors joined. Handlers run on
// the publisher's goroutine; a handler error does not stop delivery to the
// remaining subscriptions.
func Publish[T any](s *Subject, topic string, evt T) error {
	s.mu.RLock()
	if s.done {
		s.mu.RUnlock()
		return ErrCompleted
	}
	subs := make([]*Subscription, len(s.subs[topic]))
	copy(subs, s.subs[topic])
	s.mu.RUnlock()

	ctx := context.Background()
	var errs []error
	for _, sub := range subs {
		if err := sub.deliver(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("events: handler on %s: %w", topic, err))
		}
	}
	return errors.Join(errs...)
}

// Complete drops every subscription and marks the subject closed. Further
// publishes fail with ErrCompleted. Safe to call more than once.
func Complete(s *Subject) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.subs = nil
}

// Unsubscribe removes the subscription from its subject.
func (sub *Subscription) Unsubscribe() {
	s := sub.subject
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	list := s.subs[sub.topic]
	for i, cur := range list {
		if cur.id == sub.id {
			s.subs[sub.topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(s.subs[sub.topic]) == 0 {
		delete(s.subs, sub.topic)
	}
}
