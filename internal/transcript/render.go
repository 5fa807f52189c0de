package transcript

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/spec-kit/ticket-relay/internal/domain"
	"github.com/spec-kit/ticket-relay/internal/messaging"
)

// ContentType of rendered transcripts.
const ContentType = "text/html; charset=utf-8"

// Artifact is a rendered, self-contained transcript document.
type Artifact struct {
	TicketID   int64
	FileName   string
	Data       []byte
	Entries    int
	RenderedAt time.Time
}

// Size returns the document size in bytes.
func (a Artifact) Size() int64 { return int64(len(a.Data)) }

// File converts the artifact into a messaging upload.
func (a Artifact) File() messaging.File {
	return messaging.File{Name: a.FileName, ContentType: ContentType, Data: a.Data}
}

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

// Raw HTML in message bodies is escaped; goldmark's default renderer omits it.
func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdown
}

type entryView struct {
	AuthorName string
	AuthorID   string
	Bot        bool
	Timestamp  string
	ISO        string
	Body       template.HTML
	Images     []attachmentView
	Files      []attachmentView
}

type attachmentView struct {
	Name   string
	URL    string
	Inline template.URL
	Size   string
}

type documentView struct {
	TicketID    int64
	Requester   string
	Category    string
	Status      string
	CreatedAt   string
	ClosedAt    string
	GeneratedAt string
	Entries     []entryView
}

var documentTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Ticket #{{.TicketID}} transcript</title>
<style>
body{font-family:system-ui,sans-serif;background:#313338;color:#dbdee1;margin:0;padding:24px}
header{border-bottom:1px solid #4e5058;margin-bottom:16px}
.entry{padding:8px 0;border-bottom:1px solid #3f4147}
.author{font-weight:600;color:#f2f3f5}
.bot{color:#949cf7}
time{color:#949ba4;font-size:12px;margin-left:8px}
.body p{margin:4px 0}
.attachments img{max-width:480px;border-radius:4px;display:block;margin:4px 0}
.attachments a{color:#00a8fc}
</style>
</head>
<body>
<header>
<h1>Ticket #{{.TicketID}}</h1>
<p>Requester: {{.Requester}} &middot; Category: {{.Category}} &middot; Status: {{.Status}}</p>
<p>Opened {{.CreatedAt}}{{if .ClosedAt}} &middot; Closed {{.ClosedAt}}{{end}} &middot; Generated {{.GeneratedAt}}</p>
</header>
<main>
{{range .Entries}}<article class="entry">
<div><span class="author{{if .Bot}} bot{{end}}" data-author-id="{{.AuthorID}}">{{.AuthorName}}</span><time datetime="{{.ISO}}">{{.Timestamp}}</time></div>
<div class="body">{{.Body}}</div>
{{if or .Images .Files}}<div class="attachments">
{{range .Images}}{{if .Inline}}<img src="{{.Inline}}" alt="{{.Name}}">{{else}}<img src="{{.URL}}" alt="{{.Name}}">{{end}}
{{end}}{{range .Files}}<a href="{{.URL}}">{{.Name}} ({{.Size}})</a><br>
{{end}}</div>
{{end}}</article>
{{end}}</main>
</body>
</html>
`))

const timeLayout = "2006-01-02 15:04:05 MST"

// Renderer turns a ticket thread's history into an HTML document.
type Renderer struct {
	platform  messaging.Platform
	now       func() time.Time
	fetcher   ImageFetcher
	inlineMax int64
}

// NewRenderer builds a renderer reading history from platform.
func NewRenderer(platform messaging.Platform, now func() time.Time, opts ...RendererOption) *Renderer {
	if now == nil {
		now = time.Now
	}
	r := &Renderer{platform: platform, now: now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render fetches the thread history of ticket and renders it.
func (r *Renderer) Render(ctx context.Context, ticket *domain.Ticket) (Artifact, error) {
	history, err := r.platform.FetchHistory(ctx, ticket.ThreadID)
	if err != nil {
		return Artifact{}, fmt.Errorf("fetch history for ticket %d: %w", ticket.ID, err)
	}
	return renderMessages(ticket, history, r.now(), r.inlineImages(ctx, history))
}

// RenderMessages renders messages, which must already be oldest first. Images
// link to their original URLs.
func RenderMessages(ticket *domain.Ticket, history []domain.Message, generatedAt time.Time) (Artifact, error) {
	return renderMessages(ticket, history, generatedAt, nil)
}

func renderMessages(ticket *domain.Ticket, history []domain.Message, generatedAt time.Time, inlined map[string]template.URL) (Artifact, error) {
	doc := documentView{
		TicketID:    ticket.ID,
		Requester:   ticket.RequesterID,
		Category:    ticket.CategoryKey,
		Status:      string(ticket.Status),
		CreatedAt:   ticket.CreatedAt.UTC().Format(timeLayout),
		GeneratedAt: generatedAt.UTC().Format(timeLayout),
		Entries:     make([]entryView, 0, len(history)),
	}
	if ticket.ClosedAt != nil {
		doc.ClosedAt = ticket.ClosedAt.UTC().Format(timeLayout)
	}

	for _, msg := range history {
		body, err := renderBody(msg.Content)
		if err != nil {
			return Artifact{}, fmt.Errorf("render message %s: %w", msg.ID, err)
		}
		entry := entryView{
			AuthorName: msg.AuthorName,
			AuthorID:   msg.AuthorID,
			Bot:        msg.AuthorIsBot,
			Timestamp:  msg.CreatedAt.UTC().Format(timeLayout),
			ISO:        msg.CreatedAt.UTC().Format(time.RFC3339),
			Body:       body,
		}
		for _, att := range msg.Attachments {
			view := attachmentView{
				Name: att.FileName,
				URL:  att.URL,
				Size: humanize.Bytes(uint64(max(att.SizeBytes, 0))),
			}
			if att.IsImage() {
				view.Inline = inlined[att.URL]
				entry.Images = append(entry.Images, view)
			} else {
				entry.Files = append(entry.Files, view)
			}
		}
		doc.Entries = append(doc.Entries, entry)
	}

	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, doc); err != nil {
		return Artifact{}, fmt.Errorf("execute transcript template: %w", err)
	}
	return Artifact{
		TicketID:   ticket.ID,
		FileName:   fmt.Sprintf("ticket-%d-transcript.html", ticket.ID),
		Data:       buf.Bytes(),
		Entries:    len(doc.Entries),
		RenderedAt: generatedAt,
	}, nil
}

func renderBody(content string) (template.HTML, error) {
	if content == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := getMarkdown().Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
