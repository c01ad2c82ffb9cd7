// SPDX-FileCopyrightText: 2022-present Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"
	"sync/atomic"
	"time"
)

// IOStats is one sample of I/O activity accumulated over a collection window
type IOStats struct {
	InBytes         uint64
	InMessages      uint64
	OutBytes        uint64
	OutMessages     uint64
	Drops           uint64
	FirstUpdateTime uint64
	LastUpdateTime  uint64
}

// Running totals since the last sample; updated atomically from the packet
// path and from the gRPC stats handler
type ioCounters struct {
	inBytes     uint64
	inMessages  uint64
	outBytes    uint64
	outMessages uint64
	drops       uint64
}

func (c *ioCounters) update(length int, in bool) {
	if in {
		atomic.AddUint64(&c.inBytes, uint64(length))
		atomic.AddUint64(&c.inMessages, 1)
	} else {
		atomic.AddUint64(&c.outBytes, uint64(length))
		atomic.AddUint64(&c.outMessages, 1)
	}
}

func (c *ioCounters) dropped() {
	atomic.AddUint64(&c.drops, 1)
}

// UpdateIOStats records the specified inbound or outbound byte count, e.g.
// from the gRPC server stats handler
func (e *Engine) UpdateIOStats(length int, in bool) {
	e.ioStats.update(length, in)
}

// Moves the accumulated totals into the given sample and resets them
func (e *Engine) addAndResetStats(stats *IOStats) {
	stats.InBytes += atomic.SwapUint64(&e.ioStats.inBytes, 0)
	stats.InMessages += atomic.SwapUint64(&e.ioStats.inMessages, 0)
	stats.OutBytes += atomic.SwapUint64(&e.ioStats.outBytes, 0)
	stats.OutMessages += atomic.SwapUint64(&e.ioStats.outMessages, 0)
	stats.Drops += atomic.SwapUint64(&e.ioStats.drops, 0)
}

const statsSamplePeriod = 5 * time.Second
const statsMaxSamples = 1000

// StatsCollector drives collection of I/O statistics as a time-series of
// per-window samples
type StatsCollector struct {
	engine   *Engine
	lock     sync.RWMutex
	stats    []*IOStats
	lastTime time.Time
	done     chan struct{}
}

// NewStatsCollector creates a new I/O stats collector for the given engine
func NewStatsCollector(engine *Engine) *StatsCollector {
	return &StatsCollector{
		engine:   engine,
		stats:    make([]*IOStats, 0, statsMaxSamples),
		lastTime: time.Now(),
		done:     make(chan struct{}),
	}
}

// Start starts the I/O stats collector in the background
func (c *StatsCollector) Start() {
	go c.collect()
}

// Stop stops the I/O stats collector
func (c *StatsCollector) Stop() {
	close(c.done)
}

// GetIOStats returns the list of I/O stats samples collected so far
func (c *StatsCollector) GetIOStats() []*IOStats {
	c.lock.RLock()
	defer c.lock.RUnlock()
	stats := c.stats
	return stats
}

func (c *StatsCollector) collect() {
	for {
		select {
		case <-time.After(statsSamplePeriod):
			c.createSample()
		case <-c.done:
			return
		}
	}
}

func (c *StatsCollector) createSample() {
	c.lock.Lock()
	defer c.lock.Unlock()
	now := time.Now()
	stats := &IOStats{
		FirstUpdateTime: uint64(c.lastTime.UnixNano()),
		LastUpdateTime:  uint64(now.UnixNano()),
	}
	c.engine.addAndResetStats(stats)
	log.Debugf("I/O stats sample: %+v", stats)
	if len(c.stats) < cap(c.stats) {
		c.stats = append(c.stats, stats)
	} else {
		c.stats = append(c.stats[1:], stats)
	}
	c.lastTime = now
}
