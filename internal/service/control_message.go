package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spec-kit/ticket-relay/internal/domain"
)

var (
	// requesterMarker is the line the control message carries for the requester.
	requesterMarker = regexp.MustCompile(`Requester ID: (\d{17,20})\b`)
	rawUserID       = regexp.MustCompile(`\b(\d{17,20})\b`)
)

// ExtractRequesterID returns the ID on the requester marker line of content.
func ExtractRequesterID(content string) (string, bool) {
	return firstGroup(requesterMarker, content)
}

// ExtractUserID returns the first raw user ID found in content.
func ExtractUserID(content string) (string, bool) {
	return firstGroup(rawUserID, content)
}

func firstGroup(re *regexp.Regexp, content string) (string, bool) {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// RenderControlMessage renders the pinned state message of a ticket thread. A known
// requester is written on the marker line so it can be recovered from the thread;
// other IDs in the message (claimant, mentions) never use that line.
func RenderControlMessage(t *domain.Ticket) string {
	var b strings.Builder
	if t.ID > 0 {
		fmt.Fprintf(&b, "**Ticket #%d**\n", t.ID)
	} else {
		b.WriteString("**New ticket**\n")
	}
	if t.RequesterID != "" {
		fmt.Fprintf(&b, "Requester: <@%s>\nRequester ID: %s\n", t.RequesterID, t.RequesterID)
	} else {
		b.WriteString("Requester: unknown\n")
	}
	fmt.Fprintf(&b, "Status: %s", t.Status)
	if t.ClaimedBy != nil {
		fmt.Fprintf(&b, " by <@%s>", *t.ClaimedBy)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Priority: %d · Category: %s", t.Priority, t.CategoryKey)
	if t.EscalatedLevel > 0 {
		fmt.Fprintf(&b, " · Escalation: %d", t.EscalatedLevel)
	}
	b.WriteString("\n")
	if t.StatusLabel != nil {
		fmt.Fprintf(&b, "Label: %s\n", *t.StatusLabel)
	}
	if t.ClosedAt != nil {
		fmt.Fprintf(&b, "Closed: <t:%d:f>", t.ClosedAt.Unix())
		if t.CloseReason != nil {
			fmt.Fprintf(&b, " (%s)", *t.CloseReason)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func threadName(requesterName, category string) string {
	name := strings.TrimSpace(requesterName)
	if name == "" {
		name = "ticket"
	}
	out := fmt.Sprintf("%s-%s", category, name)
	if r := []rune(out); len(r) > 100 {
		out = string(r[:100])
	}
	return out
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
