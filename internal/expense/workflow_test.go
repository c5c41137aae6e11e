package expense_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hourglasshq/hourglass/internal/expense"
)

func TestNextStatus_LegalEdges(t *testing.T) {
	cases := []struct {
		from  expense.Status
		event expense.Event
		want  expense.Status
	}{
		{expense.StatusDraft, expense.EventSubmit, expense.StatusSubmitted},
		{expense.StatusSubmitted, expense.EventApprove, expense.StatusApproved},
		{expense.StatusSubmitted, expense.EventReject, expense.StatusRejected},
		{expense.StatusRejected, expense.EventResubmit, expense.StatusResubmitted},
		{expense.StatusResubmitted, expense.EventApprove, expense.StatusApproved},
		{expense.StatusResubmitted, expense.EventReject, expense.StatusRejected},
		{expense.StatusApproved, expense.EventReimburse, expense.StatusReimbursed},
	}

	for _, c := range cases {
		got, ok := expense.NextStatus(c.from, c.event)
		assert.True(t, ok, "%s + %s", c.from, c.event)
		assert.Equal(t, c.want, got)
	}
}

func TestNextStatus_IllegalEdges(t *testing.T) {
	cases := []struct {
		from  expense.Status
		event expense.Event
	}{
		{expense.StatusDraft, expense.EventApprove},
		{expense.StatusDraft, expense.EventReimburse},
		{expense.StatusSubmitted, expense.EventSubmit},
		{expense.StatusSubmitted, expense.EventReimburse},
		{expense.StatusApproved, expense.EventApprove},
		{expense.StatusApproved, expense.EventReject},
		{expense.StatusRejected, expense.EventApprove},
		{expense.StatusRejected, expense.EventSubmit},
	}

	for _, c := range cases {
		_, ok := expense.NextStatus(c.from, c.event)
		assert.False(t, ok, "%s + %s must be illegal", c.from, c.event)
	}
}

func TestNextStatus_ReimbursedIsTerminal(t *testing.T) {
	events := []expense.Event{
		expense.EventSubmit, expense.EventApprove, expense.EventReject,
		expense.EventResubmit, expense.EventReimburse,
	}
	for _, ev := range events {
		_, ok := expense.NextStatus(expense.StatusReimbursed, ev)
		assert.False(t, ok, "REIMBURSED must have no outgoing edge for %s", ev)
	}
}

func TestValidStatus(t *testing.T) {
	assert.True(t, expense.ValidStatus(expense.StatusDraft))
	assert.True(t, expense.ValidStatus(expense.StatusReimbursed))
	assert.False(t, expense.ValidStatus(expense.Status("PENDING")))
	assert.False(t, expense.ValidStatus(expense.Status("")))
}
