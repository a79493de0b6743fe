package notify

import (
	"context"

	"github.com/google/uuid"

	"github.com/doridoridoriand/keepitup/internal/log"
)

// LogNotifier writes notifications to the structured log instead of a mail
// transport. Every message gets a fresh UUID based message id.
type LogNotifier struct {
	logger  *log.Logger
	baseURL string
	newID   func() string
	sent    []Message
}

// NewLogNotifier returns a notifier linking to baseURL.
func NewLogNotifier(logger *log.Logger, baseURL string) *LogNotifier {
	return &LogNotifier{
		logger:  logger,
		baseURL: baseURL,
		newID: func() string {
			return "<" + uuid.NewString() + "@keepitup>"
		},
	}
}

func (n *LogNotifier) Notify(ctx context.Context, subscribers []Subscriber, kind Kind, node Node, ref string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(subscribers) == 0 {
		return ref, nil
	}

	msg := Compose(kind, node, subscribers, n.baseURL, ref)
	msg.ID = n.newID()
	n.sent = append(n.sent, msg)

	n.logger.Info("notification sent", map[string]interface{}{
		"message_id":  msg.ID,
		"in_reply_to": msg.InReplyTo,
		"to":          msg.To,
		"subject":     msg.Subject,
		"node_id":     node.ID,
	})
	return msg.ID, nil
}

// Sent returns the messages delivered so far.
func (n *LogNotifier) Sent() []Message {
	return append([]Message(nil), n.sent...)
}
