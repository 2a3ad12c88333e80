package metrics

import (
	"strconv"
	"time"
)

// Source is what the collector samples. The manager implements it.
type Source interface {
	ClusterPhases() (map[string]int, error)
	IsLeader() bool
	RaftStats() map[string]string
}

// Collector periodically samples gauges from a Source
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
	phases   map[string]bool
}

// NewCollector creates a new metrics collector
func NewCollector(src Source) *Collector {
	return &Collector{
		source:   src,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
		phases:   make(map[string]bool),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect samples the source once
func (c *Collector) Collect() {
	c.collectClusterMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectClusterMetrics() {
	phases, err := c.source.ClusterPhases()
	if err != nil {
		return
	}

	// Phases seen before but absent now drop to zero.
	for phase := range c.phases {
		if _, ok := phases[phase]; !ok {
			ClustersTotal.WithLabelValues(phase).Set(0)
		}
	}
	for phase, count := range phases {
		c.phases[phase] = true
		ClustersTotal.WithLabelValues(phase).Set(float64(count))
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.source.RaftStats()
	if stats == nil {
		return
	}
	if v, err := strconv.ParseUint(stats["applied_index"], 10, 64); err == nil {
		RaftAppliedIndex.Set(float64(v))
	}
	if v, err := strconv.Atoi(stats["num_peers"]); err == nil {
		// num_peers excludes the local node
		RaftPeers.Set(float64(v + 1))
	}
}
