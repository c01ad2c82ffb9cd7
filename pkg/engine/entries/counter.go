// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package entries

import (
	"sort"
	"sync/atomic"

	"github.com/onosproject/onos-lib-go/pkg/errors"
	p4api "github.com/p4lang/p4runtime/go/p4/v1"
)

// CounterInfo describes an indexed counter array: its ID, name and the bound
// of its index domain
type CounterInfo struct {
	ID   uint32
	Name string
	Size int
}

// Counters represents the set of indexed counters of the pipeline
type Counters struct {
	counters map[uint32]*Counter
}

// Counter is an array of packet/byte accumulator cells. Increments are
// atomic per index, so concurrent packet workers never lose updates.
type Counter struct {
	info  *CounterInfo
	cells []counterCell
}

type counterCell struct {
	packets uint64
	bytes   uint64
}

// NewCounters creates a new set of counters from the given schemas
func NewCounters(counterInfos []*CounterInfo) *Counters {
	cs := &Counters{
		counters: make(map[uint32]*Counter),
	}
	for _, ci := range counterInfos {
		cs.counters[ci.ID] = NewCounter(ci)
	}
	return cs
}

// NewCounter creates a new counter array with the specified schema
func NewCounter(info *CounterInfo) *Counter {
	return &Counter{
		info:  info,
		cells: make([]counterCell, info.Size),
	}
}

// Counter returns the counter with the specified ID
func (cs *Counters) Counter(id uint32) *Counter {
	return cs.counters[id]
}

// Counters returns the list of all counters, ordered by ID
func (cs *Counters) Counters() []*Counter {
	counters := make([]*Counter, 0, len(cs.counters))
	for _, counter := range cs.counters {
		counters = append(counters, counter)
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i].info.ID < counters[j].info.ID })
	return counters
}

// ModifyCounterEntry overwrites the cell data of the specified counter entry;
// counters are created with the pipeline and cannot be inserted
func (cs *Counters) ModifyCounterEntry(entry *p4api.CounterEntry, insert bool) error {
	if insert {
		return errors.NewInvalid("counter entry cannot be inserted")
	}
	counter, ok := cs.counters[entry.CounterId]
	if !ok {
		return errors.NewNotFound("counter %d not found", entry.CounterId)
	}
	if entry.Index == nil {
		return errors.NewInvalid("counter entry write requires an index")
	}
	var packets, byteCount uint64
	if entry.Data != nil {
		packets, byteCount = uint64(entry.Data.PacketCount), uint64(entry.Data.ByteCount)
	}
	return counter.Write(entry.Index.Index, packets, byteCount)
}

// ReadCounterEntries reads cells of the counter designated by the request via
// the supplied sender; a request without an index reads the entire array and
// a request with counter ID 0 reads all counters
func (cs *Counters) ReadCounterEntries(request *p4api.CounterEntry, sender BatchSender) error {
	if request.CounterId == 0 {
		for _, counter := range cs.Counters() {
			if err := counter.ReadCounterEntries(request, sender); err != nil {
				return err
			}
		}
		return nil
	}
	counter, ok := cs.counters[request.CounterId]
	if !ok {
		return errors.NewNotFound("counter %d not found", request.CounterId)
	}
	return counter.ReadCounterEntries(request, sender)
}

// ID returns the counter ID
func (c *Counter) ID() uint32 {
	return c.info.ID
}

// Name returns the counter name
func (c *Counter) Name() string {
	return c.info.Name
}

// Size returns the bound of the counter index domain
func (c *Counter) Size() int {
	return c.info.Size
}

// Increment adds one packet and the given byte count to the cell at the
// specified index
func (c *Counter) Increment(index int64, byteCount int) error {
	if index < 0 || index >= int64(len(c.cells)) {
		return errors.NewInvalid("counter %s index %d out of range", c.info.Name, index)
	}
	cell := &c.cells[index]
	atomic.AddUint64(&cell.packets, 1)
	atomic.AddUint64(&cell.bytes, uint64(byteCount))
	return nil
}

// Read returns the packet and byte counts accumulated at the specified index
func (c *Counter) Read(index int64) (packets uint64, byteCount uint64, err error) {
	if index < 0 || index >= int64(len(c.cells)) {
		return 0, 0, errors.NewInvalid("counter %s index %d out of range", c.info.Name, index)
	}
	cell := &c.cells[index]
	return atomic.LoadUint64(&cell.packets), atomic.LoadUint64(&cell.bytes), nil
}

// Write overwrites the cell at the specified index, e.g. to reset it
func (c *Counter) Write(index int64, packets uint64, byteCount uint64) error {
	if index < 0 || index >= int64(len(c.cells)) {
		return errors.NewInvalid("counter %s index %d out of range", c.info.Name, index)
	}
	cell := &c.cells[index]
	atomic.StoreUint64(&cell.packets, packets)
	atomic.StoreUint64(&cell.bytes, byteCount)
	return nil
}

// ReadCounterEntries reads the requested cells via the supplied sender
func (c *Counter) ReadCounterEntries(request *p4api.CounterEntry, sender BatchSender) error {
	if request.Index != nil {
		entry, err := c.entryAt(request.Index.Index)
		if err != nil {
			return err
		}
		return sender([]*p4api.Entity{entry})
	}

	buffer := newBuffer(sender)
	for i := range c.cells {
		entry, _ := c.entryAt(int64(i))
		if err := buffer.sendEntity(entry); err != nil {
			return err
		}
	}
	return buffer.flush()
}

func (c *Counter) entryAt(index int64) (*p4api.Entity, error) {
	packets, byteCount, err := c.Read(index)
	if err != nil {
		return nil, err
	}
	return &p4api.Entity{
		Entity: &p4api.Entity_CounterEntry{
			CounterEntry: &p4api.CounterEntry{
				CounterId: c.info.ID,
				Index:     &p4api.Index{Index: index},
				Data: &p4api.CounterData{
					PacketCount: int64(packets),
					ByteCount:   int64(byteCount),
				},
			},
		},
	}, nil
}
