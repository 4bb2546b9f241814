/*
Package notify delivers the side effects of committed changes.

PURPOSE:
  - Dispatcher: runs each queued notification as its own task. A failed
    send is logged and dropped; it never reaches the operation that queued it.
  - Senders:    email over SMTP (go-mail), SMS over AWS SNS, or a log sink.
  - Publishers: outbox events to Redis pub/sub, Pusher channels, or the log.
  - Relay:      moves committed outbox events to a publisher.

SEE ALSO:
  - generic/effects.go: where notifications and events are collected
*/
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/allocation-engine/generic"
)

// Message is a rendered notification addressed to one recipient.
type Message struct {
	To      string // email address or phone number
	Subject string
	Body    string
}

// Sender delivers rendered messages over one channel.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Directory resolves a student's contact details.
type Directory interface {
	GetUser(ctx context.Context, id generic.UserID) (*generic.User, error)
}

var _ generic.NotificationQueue = (*Dispatcher)(nil)

// Dispatcher implements generic.NotificationQueue.
type Dispatcher struct {
	Directory Directory
	Senders   map[generic.Channel]Sender
	Templates *Templates
	Timeout   time.Duration
	Logger    *zap.Logger

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher with the default templates.
func NewDispatcher(dir Directory, senders map[generic.Channel]Sender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		Directory: dir,
		Senders:   senders,
		Templates: DefaultTemplates(),
		Timeout:   30 * time.Second,
		Logger:    logger,
	}
}

// Enqueue starts one task per notification and returns immediately.
func (d *Dispatcher) Enqueue(notes ...generic.Notification) {
	for _, n := range notes {
		d.wg.Add(1)
		go func(n generic.Notification) {
			defer d.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
			defer cancel()
			if err := d.deliver(ctx, n); err != nil {
				d.Logger.Warn("notification failed",
					zap.String("id", n.ID),
					zap.String("channel", string(n.Channel)),
					zap.String("template", n.Template),
					zap.Int64("student_id", int64(n.Student)),
					zap.Error(err))
			}
		}(n)
	}
}

// Wait blocks until every enqueued notification has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, n generic.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panicked: %v", r)
		}
	}()

	sender, ok := d.Senders[n.Channel]
	if !ok {
		return nil
	}
	u, err := d.Directory.GetUser(ctx, n.Student)
	if err != nil {
		return fmt.Errorf("look up student: %w", err)
	}
	if u == nil {
		return fmt.Errorf("student %d not in directory", n.Student)
	}
	to := u.Email
	if n.Channel == generic.ChannelSMS {
		to = u.Phone
	}
	if to == "" {
		d.Logger.Debug("no address for channel", zap.Int64("student_id", int64(n.Student)), zap.String("channel", string(n.Channel)))
		return nil
	}

	params := map[string]string{"name": u.Name}
	for k, v := range n.Params {
		params[k] = v
	}
	subject, body, err := d.Templates.Render(n.Template, params)
	if err != nil {
		return err
	}
	return sender.Send(ctx, Message{To: to, Subject: subject, Body: body})
}
