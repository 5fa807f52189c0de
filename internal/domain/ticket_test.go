package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTicketInactiveSince(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ticket := &Ticket{CreatedAt: created}
	assert.Equal(t, created, ticket.InactiveSince())

	activity := created.Add(time.Hour)
	ticket.LastActivityAt = &activity
	assert.Equal(t, activity, ticket.InactiveSince())
}

func TestStatusIsActive(t *testing.T) {
	assert.True(t, TicketStatusOpen.IsActive())
	assert.True(t, TicketStatusClaimed.IsActive())
	assert.False(t, TicketStatusClosed.IsActive())
}

func TestStaffRoleRanking(t *testing.T) {
	assert.True(t, StaffRoleAdmin.AtLeast(StaffRoleTeamLead))
	assert.True(t, StaffRoleTeamLead.AtLeast(StaffRoleTeamLead))
	assert.False(t, StaffRoleAgent.AtLeast(StaffRoleTeamLead))
	assert.False(t, StaffRoleNone.Valid())

	var system *Actor
	assert.False(t, system.IsStaff())
	assert.Nil(t, system.IDPtr())
	assert.True(t, (&Actor{ID: "1", Role: StaffRoleAgent}).IsStaff())
}

func TestAttachmentIsImage(t *testing.T) {
	assert.True(t, Attachment{ContentType: "image/png"}.IsImage())
	assert.True(t, Attachment{FileName: "Screen.JPG"}.IsImage())
	assert.False(t, Attachment{FileName: "log.txt", ContentType: "text/plain"}.IsImage())
}
