// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package entries

import (
	"sync"
	"testing"

	p4api "github.com/p4lang/p4runtime/go/p4/v1"
	"github.com/stretchr/testify/assert"
)

func testCounter() *Counter {
	return NewCounter(&CounterInfo{ID: 1, Name: "test.counter", Size: 64})
}

func TestCounterBasics(t *testing.T) {
	counter := testCounter()

	assert.NoError(t, counter.Increment(7, 100))
	assert.NoError(t, counter.Increment(7, 50))
	packets, byteCount, err := counter.Read(7)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), packets)
	assert.Equal(t, uint64(150), byteCount)

	// Untouched cells stay zero
	packets, byteCount, err = counter.Read(8)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), packets)
	assert.Equal(t, uint64(0), byteCount)

	// Reset via write
	assert.NoError(t, counter.Write(7, 0, 0))
	packets, _, err = counter.Read(7)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), packets)
}

func TestCounterBounds(t *testing.T) {
	counter := testCounter()
	assert.Error(t, counter.Increment(64, 1))
	assert.Error(t, counter.Increment(-1, 1))
	_, _, err := counter.Read(64)
	assert.Error(t, err)
}

func TestCounterConcurrentIncrements(t *testing.T) {
	counter := testCounter()

	const workers = 8
	const perWorker = 1000
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = counter.Increment(3, 10)
			}
		}()
	}
	wg.Wait()

	packets, byteCount, err := counter.Read(3)
	assert.NoError(t, err)
	assert.Equal(t, uint64(workers*perWorker), packets)
	assert.Equal(t, uint64(workers*perWorker*10), byteCount)
}

func TestCounterEntryReadWrite(t *testing.T) {
	counters := NewCounters([]*CounterInfo{
		{ID: 1, Name: "test.ingress", Size: 16},
		{ID: 2, Name: "test.egress", Size: 16},
	})

	assert.NoError(t, counters.Counter(1).Increment(5, 64))

	var read []*p4api.CounterEntry
	sender := func(entities []*p4api.Entity) error {
		for _, entity := range entities {
			read = append(read, entity.GetCounterEntry())
		}
		return nil
	}

	// Indexed read of a single cell
	err := counters.ReadCounterEntries(&p4api.CounterEntry{
		CounterId: 1,
		Index:     &p4api.Index{Index: 5},
	}, sender)
	assert.NoError(t, err)
	assert.Len(t, read, 1)
	assert.Equal(t, int64(1), read[0].Data.PacketCount)
	assert.Equal(t, int64(64), read[0].Data.ByteCount)

	// Read of the whole array
	read = nil
	err = counters.ReadCounterEntries(&p4api.CounterEntry{CounterId: 2}, sender)
	assert.NoError(t, err)
	assert.Len(t, read, 16)

	// Write resets the cell
	err = counters.ModifyCounterEntry(&p4api.CounterEntry{
		CounterId: 1,
		Index:     &p4api.Index{Index: 5},
		Data:      &p4api.CounterData{},
	}, false)
	assert.NoError(t, err)
	packets, _, err := counters.Counter(1).Read(5)
	assert.NoError(t, err)
	assert.Equal(t, uint64(0), packets)

	// Counters cannot be inserted
	assert.Error(t, counters.ModifyCounterEntry(&p4api.CounterEntry{CounterId: 1}, true))
}
