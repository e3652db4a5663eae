package feed

import (
	"encoding/json"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paintops/internal/logger"
	"paintops/internal/store"
)

func TestRedisBusHandleForwardsMessages(t *testing.T) {
	b := &RedisBus{log: logger.Nop(), channel: "paintops:changes"}
	var got []store.ChangeEvent
	collect := func(ev store.ChangeEvent) { got = append(got, ev) }

	raw, err := json.Marshal(store.ChangeEvent{Table: store.TableJobs, Kind: store.KindUpdate, JobID: "j1", PhaseID: "p1"})
	require.NoError(t, err)

	assert.False(t, b.handle(&goredis.Message{Channel: b.channel, Payload: string(raw)}, false, collect))
	assert.False(t, b.handle(&goredis.Message{Channel: b.channel, Payload: "{"}, false, collect))
	assert.False(t, b.handle(&goredis.Pong{}, false, collect))

	require.Len(t, got, 1)
	assert.Equal(t, "j1", got[0].JobID)
	assert.Equal(t, store.KindUpdate, got[0].Kind)
}

func TestRedisBusResyncsAfterResubscribe(t *testing.T) {
	b := &RedisBus{log: logger.Nop(), channel: "paintops:changes"}
	var got []store.ChangeEvent
	collect := func(ev store.ChangeEvent) { got = append(got, ev) }

	sub := &goredis.Subscription{Kind: "subscribe", Channel: b.channel, Count: 1}

	// the first confirmation is the initial subscribe
	assert.False(t, b.handle(sub, false, collect))
	assert.Empty(t, got)

	assert.False(t, b.handle(sub, true, collect))
	require.Len(t, got, 1)
	assert.Equal(t, store.KindResync, got[0].Kind)

	// a resync reaching the hub marks its subscribers lost
	h := store.NewHub()
	s := h.Subscribe(t.Context(), store.ChangeFilter{Table: store.TableJobs})
	defer s.Unsubscribe()
	h.Publish(got[0])
	select {
	case <-s.Lost():
	default:
		t.Fatal("expected lost signal")
	}
}
