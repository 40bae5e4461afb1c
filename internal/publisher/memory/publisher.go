// Package memory keeps published scrape results in process. It backs the
// pubsub.driver=memory setting and the sink tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/court-case-scraper/internal/court"
)

// Publisher retains the most recent published results, oldest first.
type Publisher struct {
	mu       sync.RWMutex
	limit    int
	seq      int
	messages []Message
}

// Message is one published result.
type Message struct {
	ID     string
	Topic  string
	Result court.ScrapeResult
}

// New returns a Publisher that keeps at most limit messages. A limit <= 0
// keeps everything.
func New(limit int) *Publisher {
	return &Publisher{limit: limit}
}

// Publish records a court.ScrapeResult payload and returns a message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	var res court.ScrapeResult
	switch v := payload.(type) {
	case court.ScrapeResult:
		res = v
	case *court.ScrapeResult:
		if v == nil {
			return "", fmt.Errorf("publish to %s: nil result", topic)
		}
		res = *v
	default:
		return "", fmt.Errorf("publish to %s: unsupported payload %T", topic, payload)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Result: res})
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append([]Message(nil), p.messages[len(p.messages)-p.limit:]...)
	}
	return id, nil
}

// Messages returns a copy of the retained messages.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Lookup returns the latest message carrying the given result ID.
func (p *Publisher) Lookup(resultID string) (Message, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := len(p.messages) - 1; i >= 0; i-- {
		if p.messages[i].Result.ID == resultID {
			return p.messages[i], true
		}
	}
	return Message{}, false
}
