// Package messagingtest provides an in-memory messaging.Platform for tests.
package messagingtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/messaging"
)

// ErrUnreachable is returned for users configured as unreachable.
var ErrUnreachable = errors.New("recipient unreachable")

// PrivateMessage records a private delivery.
type PrivateMessage struct {
	UserID  string
	Message messaging.OutgoingMessage
}

// Platform is a thread-safe fake of messaging.Platform.
type Platform struct {
	mu sync.Mutex

	Now               func() time.Time
	FailCreateThread  error
	Unreachable       map[string]bool
	Threads           map[string][]domain.Message
	Pinned            map[string][]string
	Starter           map[string]*domain.Message
	Archived          map[string]bool
	Granted           map[string][]string
	Private           []PrivateMessage
	Edits             map[string]string
	CreatedThreadSpec []messaging.ThreadSpec

	seq int
}

// New returns an empty fake platform.
func New() *Platform {
	return &Platform{
		Now:         time.Now,
		Unreachable: map[string]bool{},
		Threads:     map[string][]domain.Message{},
		Pinned:      map[string][]string{},
		Starter:     map[string]*domain.Message{},
		Archived:    map[string]bool{},
		Granted:     map[string][]string{},
		Edits:       map[string]string{},
	}
}

var _ messaging.Platform = (*Platform)(nil)

func (p *Platform) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s%d", prefix, p.seq)
}

func (p *Platform) CreateThread(_ context.Context, spec messaging.ThreadSpec) (messaging.ThreadRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailCreateThread != nil {
		return messaging.ThreadRef{}, p.FailCreateThread
	}
	threadID := p.nextID("thread-")
	controlID := p.nextID("msg-")
	p.Threads[threadID] = []domain.Message{{
		ID:          controlID,
		ChannelID:   threadID,
		AuthorID:    "bot",
		AuthorName:  "Relay",
		AuthorIsBot: true,
		Content:     spec.ControlMessage,
		CreatedAt:   p.Now(),
	}}
	p.Pinned[threadID] = []string{controlID}
	p.CreatedThreadSpec = append(p.CreatedThreadSpec, spec)
	return messaging.ThreadRef{ThreadID: threadID, ControlMessageID: controlID}, nil
}

func (p *Platform) SendToThread(_ context.Context, threadID string, msg messaging.OutgoingMessage) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID("msg-")
	p.Threads[threadID] = append(p.Threads[threadID], domain.Message{
		ID:          id,
		ChannelID:   threadID,
		AuthorID:    "bot",
		AuthorName:  "Relay",
		AuthorIsBot: true,
		Content:     msg.Content,
		CreatedAt:   p.Now(),
	})
	return id, nil
}

// AddThreadMessage appends a message authored by someone other than the bot.
func (p *Platform) AddThreadMessage(threadID string, msg domain.Message) domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.ID == "" {
		msg.ID = p.nextID("msg-")
	}
	msg.ChannelID = threadID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = p.Now()
	}
	p.Threads[threadID] = append(p.Threads[threadID], msg)
	return msg
}

func (p *Platform) EditMessage(_ context.Context, channelID, messageID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Edits[messageID] = content
	msgs := p.Threads[channelID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			msgs[i].Content = content
		}
	}
	return nil
}

func (p *Platform) SendPrivate(_ context.Context, userID string, msg messaging.OutgoingMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Unreachable[userID] {
		return ErrUnreachable
	}
	p.Private = append(p.Private, PrivateMessage{UserID: userID, Message: msg})
	return nil
}

func (p *Platform) FetchHistory(_ context.Context, threadID string) ([]domain.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs, ok := p.Threads[threadID]
	if !ok {
		return nil, errors.New("unknown thread")
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (p *Platform) FetchPinned(_ context.Context, threadID string) ([]domain.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Message
	for _, id := range p.Pinned[threadID] {
		for _, m := range p.Threads[threadID] {
			if m.ID == id {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (p *Platform) FetchStarterMessage(_ context.Context, threadID string) (*domain.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.Starter[threadID]; ok {
		c := *m
		return &c, nil
	}
	return nil, errors.New("no starter message")
}

func (p *Platform) FetchFirstMessages(_ context.Context, threadID string, limit int) ([]domain.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs := p.Threads[threadID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return append([]domain.Message(nil), msgs...), nil
}

func (p *Platform) ArchiveThread(_ context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Archived[threadID] = true
	return nil
}

func (p *Platform) UnarchiveThread(_ context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Archived[threadID] = false
	return nil
}

func (p *Platform) GrantThreadAccess(_ context.Context, threadID, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Granted[threadID] = append(p.Granted[threadID], userID)
	return nil
}

// ThreadMessages returns a snapshot of a thread.
func (p *Platform) ThreadMessages(threadID string) []domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Message(nil), p.Threads[threadID]...)
}

// PrivateTo returns the private messages delivered to userID.
func (p *Platform) PrivateTo(userID string) []messaging.OutgoingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []messaging.OutgoingMessage
	for _, pm := range p.Private {
		if pm.UserID == userID {
			out = append(out, pm.Message)
		}
	}
	return out
}

// SetUnreachable toggles delivery failure for userID.
func (p *Platform) SetUnreachable(userID string, unreachable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Unreachable[userID] = unreachable
}
