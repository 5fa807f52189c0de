package messaging

import (
	"context"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

// ThreadSpec describes a ticket thread to open.
type ThreadSpec struct {
	Name           string
	ControlMessage string
}

// ThreadRef identifies a created thread and its pinned control message.
type ThreadRef struct {
	ThreadID         string
	ControlMessageID string
}

// File is an in-memory upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// OutgoingMessage is content posted to a thread or private channel.
type OutgoingMessage struct {
	Content string
	Files   []File
}

// Platform is the messaging collaborator the ticket core talks to.
type Platform interface {
	CreateThread(ctx context.Context, spec ThreadSpec) (ThreadRef, error)
	SendToThread(ctx context.Context, threadID string, msg OutgoingMessage) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	SendPrivate(ctx context.Context, userID string, msg OutgoingMessage) error
	// FetchHistory returns every thread message, oldest first.
	FetchHistory(ctx context.Context, threadID string) ([]domain.Message, error)
	FetchPinned(ctx context.Context, threadID string) ([]domain.Message, error)
	FetchStarterMessage(ctx context.Context, threadID string) (*domain.Message, error)
	// FetchFirstMessages returns up to limit messages from the start of the thread, oldest first.
	FetchFirstMessages(ctx context.Context, threadID string, limit int) ([]domain.Message, error)
	ArchiveThread(ctx context.Context, threadID string) error
	UnarchiveThread(ctx context.Context, threadID string) error
	GrantThreadAccess(ctx context.Context, threadID, userID string) error
}
