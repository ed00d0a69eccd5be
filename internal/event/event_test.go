package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizparty/internal/domain"
	"github.com/victornm/quizparty/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	dealt := domain.EventClueDealt{Channel: "general", Clue: domain.Clue{ID: "k1"}}
	expired := domain.EventClueExpired{Channel: "general", Clue: domain.Clue{ID: "k1"}}
	adjusted := domain.EventScoreAdjusted{Channel: "general", UserID: "u1", Delta: 400}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber only receives its event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{dealt, expired},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{dealt.Name()}},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{dealt}, out.received["s1"])
			},
		},

		"repeated events are all delivered": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{dealt, dealt, dealt},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{dealt.Name()}},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Len(t, out.received["s1"], 3)
			},
		},

		"every subscriber of an event receives it": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{expired},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{expired.Name()}},
						{name: "s2", subscribeTo: []string{expired.Name()}},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{expired}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{expired}, out.received["s2"])
			},
		},

		"subscriptions fan out by name": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{dealt, adjusted, expired, adjusted},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{dealt.Name(), expired.Name()}},
						{name: "s2", subscribeTo: []string{adjusted.Name()}},
					},
				}
			},
			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{dealt, expired}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{adjusted, adjusted}, out.received["s2"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, name := range s.subscribeTo {
					b.Subscribe(name, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerPanicDoesNotPoisonTheBus(t *testing.T) {
	t.Parallel()

	b := event.NewBus(event.WithPoolSize(1))

	delivered := make(chan struct{})
	b.Subscribe("clue.dealt", func(ctx context.Context, e event.Event) error {
		panic("boom")
	})
	b.Subscribe("clue.dealt", func(ctx context.Context, e event.Event) error {
		close(delivered)
		return nil
	})

	b.Publish(context.Background(), domain.EventClueDealt{Channel: "general", Clue: domain.Clue{ID: "k1"}})
	b.Stop()

	select {
	case <-delivered:
	default:
		require.Fail(t, "panic in one handler starved the next")
	}
}

type subscriber struct {
	name        string
	subscribeTo []string
}
