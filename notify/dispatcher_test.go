package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type captureSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *captureSender) Send(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.err
}

type panicSender struct{}

func (panicSender) Send(context.Context, Message) error { panic("smtp client nil") }

type directory map[generic.UserID]*generic.User

func (d directory) GetUser(_ context.Context, id generic.UserID) (*generic.User, error) {
	return d[id], nil
}

var asha = &generic.User{ID: 10, Name: "Asha", Role: generic.RoleStudent, Email: "asha@campus.local", Phone: "+919800000001"}

func approvedNote(ch generic.Channel) generic.Notification {
	return generic.Notification{
		ID:       "n-1",
		Student:  10,
		Channel:  ch,
		Template: generic.TemplateBookingApproved,
		Params:   map[string]string{"kind": "hostel", "resource": "Room 101 / A1", "start_date": "2025-03-05"},
	}
}

// =============================================================================
// DISPATCHER
// =============================================================================

func TestDispatcher_RendersAndAddressesPerChannel(t *testing.T) {
	email, sms := &captureSender{}, &captureSender{}
	d := NewDispatcher(directory{10: asha}, map[generic.Channel]Sender{
		generic.ChannelEmail: email,
		generic.ChannelSMS:   sms,
	}, nil)

	d.Enqueue(approvedNote(generic.ChannelEmail), approvedNote(generic.ChannelSMS))
	d.Wait()

	require.Len(t, email.sent, 1)
	assert.Equal(t, "asha@campus.local", email.sent[0].To)
	assert.Equal(t, "Your hostel booking is approved", email.sent[0].Subject)
	assert.Equal(t, "Hi Asha, your hostel booking for Room 101 / A1 starting 2025-03-05 has been approved.", email.sent[0].Body)

	require.Len(t, sms.sent, 1)
	assert.Equal(t, "+919800000001", sms.sent[0].To)
}

func TestDispatcher_FailuresAreLoggedNotReturned(t *testing.T) {
	// GIVEN: An email sender that fails and an SMS sender that panics
	// WHEN: Both notifications are enqueued
	// THEN: Enqueue returns, and each failure is logged once

	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(directory{10: asha}, map[generic.Channel]Sender{
		generic.ChannelEmail: &captureSender{err: errors.New("smtp 550")},
		generic.ChannelSMS:   panicSender{},
	}, zap.New(core))
	d.Timeout = time.Second

	d.Enqueue(approvedNote(generic.ChannelEmail), approvedNote(generic.ChannelSMS))
	d.Wait()

	failures := logs.FilterMessage("notification failed").All()
	require.Len(t, failures, 2)
	var reasons []string
	for _, entry := range failures {
		reasons = append(reasons, entry.ContextMap()["error"].(string))
	}
	assert.ElementsMatch(t, []string{"smtp 550", "sender panicked: smtp client nil"}, reasons)
}

func TestDispatcher_SkipsWhatCannotBeDelivered(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	email := &captureSender{}
	noPhone := &generic.User{ID: 11, Name: "Ravi", Email: "ravi@campus.local"}
	d := NewDispatcher(directory{10: asha, 11: noPhone}, map[generic.Channel]Sender{
		generic.ChannelEmail: email,
	}, zap.New(core))

	sms := approvedNote(generic.ChannelSMS)
	sms.Student = 11
	unknown := approvedNote(generic.ChannelEmail)
	unknown.Student = 99
	badTemplate := approvedNote(generic.ChannelEmail)
	badTemplate.Template = "no_such_template"

	d.Enqueue(sms, unknown, badTemplate)
	d.Wait()

	assert.Empty(t, email.sent)
	assert.Equal(t, 2, logs.FilterMessage("notification failed").Len(), "unknown student and unknown template")
}

func TestDispatcher_ResolvesFromStoreDirectory(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	u := &generic.User{Name: "Meera", Role: generic.RoleStudent, Email: "meera@campus.local"}
	require.NoError(t, mem.SaveUser(ctx, u))

	email := &captureSender{}
	d := NewDispatcher(mem, map[generic.Channel]Sender{generic.ChannelEmail: email}, nil)
	note := approvedNote(generic.ChannelEmail)
	note.Student = u.ID
	d.Enqueue(note)
	d.Wait()

	require.Len(t, email.sent, 1)
	assert.Equal(t, "meera@campus.local", email.sent[0].To)
}

// =============================================================================
// TEMPLATES
// =============================================================================

func TestTemplates_OptionalRemarks(t *testing.T) {
	tpl := DefaultTemplates()

	_, body, err := tpl.Render(generic.TemplateBookingRejected, map[string]string{
		"name": "Asha", "kind": "library", "resource": "S4", "remarks": "Documents unreadable",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Asha, your library booking for S4 was rejected. Remarks: Documents unreadable", body)

	_, body, err = tpl.Render(generic.TemplateBookingRejected, map[string]string{
		"name": "Asha", "kind": "library", "resource": "S4",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Asha, your library booking for S4 was rejected.", body)

	_, _, err = tpl.Render("missing", nil)
	assert.ErrorContains(t, err, `unknown notification template "missing"`)
}

func TestTemplates_EveryTemplateRenders(t *testing.T) {
	tpl := DefaultTemplates()
	for name := range defaultTemplates {
		subject, body, err := tpl.Render(name, map[string]string{"name": "A", "kind": "hostel"})
		require.NoError(t, err, name)
		assert.NotEmpty(t, subject, name)
		assert.NotEmpty(t, body, name)
	}
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := LogSender{Channel: generic.ChannelSMS, Logger: zap.New(core)}

	require.NoError(t, s.Send(context.Background(), Message{To: "+1", Body: "hello"}))
	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "sms", entries[0].ContextMap()["channel"])
	assert.Equal(t, "hello", entries[0].ContextMap()["body"])
}
