// Package notify delivers alarm notifications to node subscribers.
package notify

//go:generate mockgen -destination mocks/notifier_mock.go -source notify.go -package mocks

import (
	"context"
	"fmt"
	"strings"
)

// Kind is the alarm event being announced.
type Kind int

const (
	KindOpened Kind = iota
	KindResolved
)

func (k Kind) String() string {
	if k == KindResolved {
		return "resolved"
	}
	return "alarm"
}

// Subscriber is a confirmed user who asked to be notified about a node.
type Subscriber struct {
	ID    uint
	Email string
}

// Node identifies the node an alarm is about.
type Node struct {
	ID      string
	Name    string
	Address string
}

// Message is a rendered notification.
type Message struct {
	ID        string
	To        []string
	Subject   string
	Body      string
	InReplyTo string
}

// Notifier sends one notification to a set of subscribers. ref is the
// correlation reference of the opening notification when kind is
// KindResolved, and empty otherwise. The returned reference identifies the
// message just sent.
type Notifier interface {
	Notify(ctx context.Context, subscribers []Subscriber, kind Kind, node Node, ref string) (string, error)
}

// Subject renders the subject line for kind.
func Subject(kind Kind, node Node) string {
	name := node.Name
	if name == "" {
		name = node.ID
	}
	return fmt.Sprintf("[KeepItUp] %s: %s is unreachable via ping", kind, name)
}

// Link returns the node page under baseURL.
func Link(baseURL, nodeID string) string {
	return strings.TrimRight(baseURL, "/") + "/node/" + nodeID
}

// Compose renders the message for kind without sending it.
func Compose(kind Kind, node Node, subscribers []Subscriber, baseURL, ref string) Message {
	msg := Message{
		Subject:   Subject(kind, node),
		InReplyTo: ref,
	}
	for _, s := range subscribers {
		msg.To = append(msg.To, s.Email)
	}

	var body strings.Builder
	switch kind {
	case KindOpened:
		fmt.Fprintf(&body, "Node %s (%s) stopped answering ping.\n", node.Name, node.Address)
	case KindResolved:
		fmt.Fprintf(&body, "Node %s (%s) answers ping again.\n", node.Name, node.Address)
	}
	if baseURL != "" {
		fmt.Fprintf(&body, "\n%s\n", Link(baseURL, node.ID))
	}
	msg.Body = body.String()
	return msg
}
