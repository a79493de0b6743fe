package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/doridoridoriand/keepitup/internal/log"
)

func TestSubject(t *testing.T) {
	node := Node{ID: "n1", Name: "edge-router"}
	assert.Equal(t, "[KeepItUp] alarm: edge-router is unreachable via ping", Subject(KindOpened, node))
	assert.Equal(t, "[KeepItUp] resolved: edge-router is unreachable via ping", Subject(KindResolved, node))
	assert.Equal(t, "[KeepItUp] alarm: n1 is unreachable via ping", Subject(KindOpened, Node{ID: "n1"}))
}

func TestComposeIncludesLink(t *testing.T) {
	msg := Compose(KindOpened, Node{ID: "n1", Name: "edge", Address: "192.0.2.1"},
		[]Subscriber{{ID: 1, Email: "a@example.org"}, {ID: 2, Email: "b@example.org"}},
		"https://status.example.org/", "")

	assert.Equal(t, []string{"a@example.org", "b@example.org"}, msg.To)
	assert.Contains(t, msg.Body, "https://status.example.org/node/n1")
	assert.Contains(t, msg.Body, "192.0.2.1")
}

func TestLogNotifier(t *testing.T) {
	var logs *observer.ObservedLogs
	logger := log.NewWithCore(log.LevelInfo, func(level zap.AtomicLevel) zapcore.Core {
		core, observed := observer.New(level)
		logs = observed
		return core
	})
	n := NewLogNotifier(logger, "https://status.example.org")
	ctx := context.Background()
	node := Node{ID: "n1", Name: "edge"}
	subs := []Subscriber{{ID: 1, Email: "a@example.org"}}

	ref, err := n.Notify(ctx, subs, KindOpened, node, "")
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(ref, "@keepitup>"))

	second, err := n.Notify(ctx, subs, KindResolved, node, ref)
	assert.NoError(t, err)
	assert.NotEqual(t, ref, second)

	sent := n.Sent()
	if assert.Len(t, sent, 2) {
		assert.Equal(t, ref, sent[1].InReplyTo)
	}
	assert.Equal(t, 2, logs.FilterMessage("notification sent").Len())
}

func TestLogNotifierWithoutSubscribers(t *testing.T) {
	n := NewLogNotifier(log.NewNop(), "")
	ref, err := n.Notify(context.Background(), nil, KindOpened, Node{ID: "n1"}, "")
	assert.NoError(t, err)
	assert.Empty(t, ref)
	assert.Empty(t, n.Sent())
}
