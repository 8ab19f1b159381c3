package meter

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PublishReplaces(t *testing.T) {
	store := NewStore()

	_, ok := store.Current("house")
	assert.False(t, ok, "empty store must not report a snapshot")

	first := Snapshot{Timestamp: time.Unix(1, 0), Values: map[string]float64{"a": 1, "b": 2}}
	second := Snapshot{Timestamp: time.Unix(2, 0), Values: map[string]float64{"a": 3}}

	store.Publish("house", first)
	store.Publish("house", second)

	got, ok := store.Current("house")
	require.True(t, ok)
	assert.Equal(t, time.Unix(2, 0), got.Timestamp)
	assert.Equal(t, map[string]float64{"a": 3}, got.Values, "publish must replace, not merge")
	assert.Equal(t, uint64(2), store.Count("house"))
}

func TestStore_PublishCopies(t *testing.T) {
	store := NewStore()
	snap := Snapshot{Values: map[string]float64{"a": 1}}
	store.Publish("m", snap)

	snap.Values["a"] = 99

	got, _ := store.Current("m")
	assert.Equal(t, 1.0, got.Values["a"])
}

func TestStore_Meters(t *testing.T) {
	store := NewStore()
	store.Publish("garage", Snapshot{})
	store.Publish("attic", Snapshot{})

	assert.Equal(t, []string{"attic", "garage"}, store.Meters())
}

func TestStore_ConcurrentPublishersDoNotInterleave(t *testing.T) {
	store := NewStore()
	const meters = 4
	const rounds = 200

	var wg sync.WaitGroup
	for m := 0; m < meters; m++ {
		id := fmt.Sprintf("meter-%d", m)
		wg.Add(1)
		go func(m int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				v := float64(m*1000 + r)
				store.Publish(id, Snapshot{
					Values:   map[string]float64{"x": v, "y": v},
					Power:    v,
					HasPower: true,
				})
			}
		}(m)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < rounds; i++ {
			for m := 0; m < meters; m++ {
				snap, ok := store.Current(fmt.Sprintf("meter-%d", m))
				if !ok {
					continue
				}
				// Every field of one snapshot comes from the same publish.
				assert.Equal(t, snap.Values["x"], snap.Values["y"])
				assert.Equal(t, snap.Values["x"], snap.Power)
			}
		}
	}()

	wg.Wait()
	<-done

	for m := 0; m < meters; m++ {
		snap, ok := store.Current(fmt.Sprintf("meter-%d", m))
		require.True(t, ok)
		assert.Equal(t, float64(m*1000+rounds-1), snap.Power)
	}
}

func TestFanout(t *testing.T) {
	var got []string
	record := func(tag string) Publisher {
		return PublisherFunc(func(id string, _ Snapshot) {
			got = append(got, tag+":"+id)
		})
	}

	Fanout{record("a"), record("b")}.Publish("m1", Snapshot{})
	assert.Equal(t, []string{"a:m1", "b:m1"}, got)
}
