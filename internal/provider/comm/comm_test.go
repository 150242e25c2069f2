package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/fyrsmithlabs/reasond/internal/natstest"
	"github.com/fyrsmithlabs/reasond/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopback(t *testing.T) {
	ctx := context.Background()
	l := NewLoopback("")
	assert.Equal(t, "loopback", l.Name())

	var seen []string
	l.OnDeliver(func(m provider.OutboundMessage) { seen = append(seen, m.Content) })

	require.NoError(t, l.Deliver(ctx, provider.OutboundMessage{Channel: "cli", Content: "hello"}))
	assert.Error(t, l.Deliver(ctx, provider.OutboundMessage{Content: "no channel"}))
	assert.Equal(t, []string{"hello"}, seen)
	require.Len(t, l.Delivered(), 1)

	l.Inject("cli", "user", "first")
	l.Inject("cli", "user", "second")
	l.Inject("cli", "user", "third")
	l.Inject("other", "user", "elsewhere")

	msgs, err := l.Fetch(ctx, "cli", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "third", msgs[1].Content)

	all, err := l.Fetch(ctx, "cli", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestInbox_Backlog(t *testing.T) {
	b := newInbox(3)
	for i := 0; i < 5; i++ {
		b.add(provider.InboundMessage{Channel: "c", Content: fmt.Sprint(i)})
	}
	got := b.recent("c", 10)
	require.Len(t, got, 3)
	assert.Equal(t, "2", got[0].Content)
	assert.Equal(t, "4", got[2].Content)
}

func TestNATS_DeliverPublishesJSON(t *testing.T) {
	nc := natstest.Connect(t)
	n, err := NewNATS(nc, NATSOptions{Prefix: "test"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	sub, err := nc.SubscribeSync("test.channels.ops_room.out")
	require.NoError(t, err)

	err = n.Deliver(context.Background(), provider.OutboundMessage{Channel: "ops.room", Content: "done", TaskID: "t1"})
	require.NoError(t, err)

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	var out provider.OutboundMessage
	require.NoError(t, json.Unmarshal(msg.Data, &out))
	assert.Equal(t, "done", out.Content)
	assert.Equal(t, "t1", out.TaskID)
}

func TestNATS_FetchBuffersInbound(t *testing.T) {
	nc := natstest.Connect(t)
	n, err := NewNATS(nc, NATSOptions{Prefix: "test"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	data, err := json.Marshal(map[string]string{"author": "ada", "content": "status?"})
	require.NoError(t, err)
	require.NoError(t, nc.Publish(n.InSubject("support"), data))
	require.NoError(t, nc.Publish(n.InSubject("support"), []byte("plain text")))
	require.NoError(t, nc.Flush())

	require.Eventually(t, func() bool {
		msgs, err := n.Fetch(context.Background(), "support", 10)
		return err == nil && len(msgs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	msgs, err := n.Fetch(context.Background(), "support", 10)
	require.NoError(t, err)
	assert.Equal(t, "ada", msgs[0].Author)
	assert.Equal(t, "status?", msgs[0].Content)
	assert.Equal(t, "plain text", msgs[1].Content)
	assert.NotEmpty(t, msgs[1].ID)
}
