package domain

import (
	"strings"
	"time"
)

// Attachment references a file carried by a platform message.
type Attachment struct {
	ID          string
	FileName    string
	URL         string
	ContentType string
	SizeBytes   int64
}

// IsImage reports whether the attachment can be embedded inline.
func (a Attachment) IsImage() bool {
	if strings.HasPrefix(strings.ToLower(a.ContentType), "image/") {
		return true
	}
	name := strings.ToLower(a.FileName)
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Message is a platform message in a thread or private channel.
type Message struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	AuthorIsBot bool
	Content     string
	Attachments []Attachment
	CreatedAt   time.Time
}
