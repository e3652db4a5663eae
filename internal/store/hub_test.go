package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeFilterMatches(t *testing.T) {
	ev := ChangeEvent{Table: TableJobs, Kind: KindUpdate, JobID: "j1", PhaseID: "wo", OldPhaseID: "jr"}

	tests := []struct {
		name string
		f    ChangeFilter
		want bool
	}{
		{"empty filter", ChangeFilter{}, true},
		{"table match", ChangeFilter{Table: TableJobs}, true},
		{"table mismatch", ChangeFilter{Table: TablePhaseChanges}, false},
		{"kind match", ChangeFilter{Kinds: []Kind{KindInsert, KindUpdate}}, true},
		{"kind mismatch", ChangeFilter{Kinds: []Kind{KindDelete}}, false},
		{"new phase in scope", ChangeFilter{PhaseIDs: []string{"wo"}}, true},
		{"old phase in scope", ChangeFilter{PhaseIDs: []string{"jr"}}, true},
		{"neither phase in scope", ChangeFilter{PhaseIDs: []string{"inv"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.Matches(ev))
		})
	}
}

func TestChangeFilterIgnoresEmptyPhaseOnDelete(t *testing.T) {
	f := ChangeFilter{PhaseIDs: []string{""}}
	assert.False(t, f.Matches(ChangeEvent{Kind: KindDelete, OldPhaseID: "x"}))
}

func TestHubDeliversToMatchingSubscribers(t *testing.T) {
	h := NewHub()
	ctx := context.Background()

	jobsSub := h.Subscribe(ctx, ChangeFilter{Table: TableJobs})
	defer jobsSub.Unsubscribe()
	changesSub := h.Subscribe(ctx, ChangeFilter{Table: TablePhaseChanges})
	defer changesSub.Unsubscribe()

	h.Publish(ChangeEvent{Table: TableJobs, Kind: KindInsert, JobID: "j1"})

	select {
	case ev := <-jobsSub.C:
		assert.Equal(t, "j1", ev.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
	select {
	case ev := <-changesSub.C:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestHubOverflowSignalsLost(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(context.Background(), ChangeFilter{})
	defer sub.Unsubscribe()

	for i := 0; i < subscriptionBuffer+5; i++ {
		h.Publish(ChangeEvent{Table: TableJobs, Kind: KindUpdate})
	}

	select {
	case <-sub.Lost():
	default:
		t.Fatal("expected lost signal")
	}
	assert.Len(t, sub.C, subscriptionBuffer)
}

func TestHubResyncMarksEverySubscriptionLost(t *testing.T) {
	h := NewHub()
	jobsSub := h.Subscribe(context.Background(), ChangeFilter{Table: TableJobs, PhaseIDs: []string{"p1"}})
	defer jobsSub.Unsubscribe()
	moves := h.Subscribe(context.Background(), ChangeFilter{Table: TablePhaseChanges, Kinds: []Kind{KindInsert}})
	defer moves.Unsubscribe()

	h.Publish(ChangeEvent{Kind: KindResync})

	for _, sub := range []*Subscription{jobsSub, moves} {
		select {
		case <-sub.Lost():
		default:
			t.Fatal("expected lost signal")
		}
		assert.Empty(t, sub.C, "resync is not delivered as an event")
	}
}

func TestUnsubscribeClosesChannelOnce(t *testing.T) {
	h := NewHub()
	sub := h.Subscribe(context.Background(), ChangeFilter{})
	require.Equal(t, 1, h.Len())

	sub.Unsubscribe()
	sub.Unsubscribe()

	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, h.Len())

	// publishing after unsubscribe must not panic
	h.Publish(ChangeEvent{Table: TableJobs})
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	sub := h.Subscribe(ctx, ChangeFilter{})

	cancel()

	assert.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-sub.C
	assert.False(t, open)
}
