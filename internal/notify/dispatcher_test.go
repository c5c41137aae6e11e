package notify_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hourglasshq/hourglass/internal/notify"
)

type sentMail struct {
	to, subject, body string
}

type captureSender struct {
	sent []sentMail
	err  error
}

func (c *captureSender) Send(ctx context.Context, to, subject, body string) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, sentMail{to, subject, body})
	return nil
}

type staticEmails map[string]string

func (s staticEmails) EmailForUser(ctx context.Context, username string) (string, bool, error) {
	email, ok := s[username]
	return email, ok, nil
}

func newDispatcher(sender *captureSender, emails staticEmails) *notify.Dispatcher {
	return notify.NewDispatcher(sender, emails, notify.Config{
		AdminRecipients:    []string{"ops@example.com"},
		ApproverRecipients: []string{"approvals@example.com", "finance@example.com"},
	}, nil)
}

func TestEmit_SubmittedGoesToApprovers(t *testing.T) {
	sender := &captureSender{}
	d := newDispatcher(sender, staticEmails{"alice": "alice@example.com"})

	d.Emit(context.Background(), notify.Event{
		Kind:          notify.ExpenseSubmitted,
		OwnerUsername: "alice",
		Data:          map[string]string{"expense_id": "7", "amount": "42.50"},
	})

	assert.Len(t, sender.sent, 2)
	assert.Equal(t, "approvals@example.com", sender.sent[0].to)
	assert.Equal(t, "finance@example.com", sender.sent[1].to)
	assert.Contains(t, sender.sent[0].body, "alice")
	assert.Contains(t, sender.sent[0].body, "42.50")
}

func TestEmit_ApprovedGoesToOwner(t *testing.T) {
	sender := &captureSender{}
	d := newDispatcher(sender, staticEmails{"alice": "alice@example.com"})

	d.Emit(context.Background(), notify.Event{
		Kind:          notify.ExpenseApproved,
		OwnerUsername: "alice",
		Data:          map[string]string{"expense_id": "7", "approved_by": "carol"},
	})

	assert.Len(t, sender.sent, 1)
	assert.Equal(t, "alice@example.com", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].body, "carol")
}

func TestEmit_RejectedCarriesReason(t *testing.T) {
	sender := &captureSender{}
	d := newDispatcher(sender, staticEmails{"alice": "alice@example.com"})

	d.Emit(context.Background(), notify.Event{
		Kind:          notify.ExpenseRejected,
		OwnerUsername: "alice",
		Data:          map[string]string{"expense_id": "7", "reason": "missing receipt"},
	})

	assert.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].body, "missing receipt")
}

func TestEmit_NoEmailDropsQuietly(t *testing.T) {
	sender := &captureSender{}
	d := newDispatcher(sender, staticEmails{})

	d.Emit(context.Background(), notify.Event{
		Kind:          notify.ExpenseApproved,
		OwnerUsername: "alice",
	})

	assert.Empty(t, sender.sent)
}

func TestEmit_JenkinsGoesToAdmins(t *testing.T) {
	sender := &captureSender{}
	d := newDispatcher(sender, staticEmails{})

	d.Emit(context.Background(), notify.Event{
		Kind: notify.JenkinsBuild,
		Data: map[string]string{"job": "nightly", "result": "FAILURE"},
	})

	assert.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@example.com", sender.sent[0].to)
	assert.Contains(t, sender.sent[0].subject, "nightly")
	assert.Contains(t, sender.sent[0].subject, "FAILURE")
}

func TestEmit_PasswordExpiringSubjectCarriesDays(t *testing.T) {
	sender := &captureSender{}
	d := newDispatcher(sender, staticEmails{"alice": "alice@example.com"})

	d.Emit(context.Background(), notify.Event{
		Kind:          notify.PasswordExpiring,
		OwnerUsername: "alice",
		DaysLeft:      3,
	})

	assert.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].subject, fmt.Sprintf("%d", 3))
}

func TestEmit_DeliveryFailureDoesNotPanicOrPropagate(t *testing.T) {
	sender := &captureSender{err: errors.New("connection refused")}
	d := newDispatcher(sender, staticEmails{"alice": "alice@example.com"})

	// Emit has no error return; the failure must stay internal.
	d.Emit(context.Background(), notify.Event{
		Kind:          notify.ExpenseApproved,
		OwnerUsername: "alice",
	})
}
