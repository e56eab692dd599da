package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Target is one running script to sample.
type Target struct {
	Unit   string
	Script string
	PID    int
}

// Usage is the latest CPU and memory sample of a running script. Children of
// the script's root process are included.
type Usage struct {
	Unit       string    `json:"modulePath"`
	Script     string    `json:"script"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpuPercent"`
	MemoryRSS  uint64    `json:"memoryRss"`
	Processes  int       `json:"processes"`
	Timestamp  time.Time `json:"timestamp"`
}

// UsageConfig holds configuration for usage sampling.
type UsageConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// UsageCollector periodically samples CPU and memory of running scripts with
// gopsutil and exports them as gauges.
type UsageCollector struct {
	enabled  bool
	interval time.Duration
	log      *slog.Logger

	mu     sync.RWMutex
	latest map[string]Usage
	procs  map[int32]*process.Process // cached so Percent can diff CPU times

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryRSS  *prometheus.GaugeVec
}

func NewUsageCollector(cfg UsageConfig, log *slog.Logger) *UsageCollector {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &UsageCollector{
		enabled:  cfg.Enabled,
		interval: interval,
		log:      log,
		latest:   make(map[string]Usage),
		procs:    make(map[int32]*process.Process),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "script",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of a running script and its children.",
			}, []string{"unit", "script"},
		),
		memoryRSS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "script",
				Name:      "memory_rss_bytes",
				Help:      "Resident memory of a running script and its children.",
			}, []string{"unit", "script"},
		),
	}
}

// Enabled reports whether sampling is configured.
func (c *UsageCollector) Enabled() bool { return c != nil && c.enabled }

// RegisterMetrics registers the usage gauges with the provided registerer.
func (c *UsageCollector) RegisterMetrics(r prometheus.Registerer) error {
	if !c.Enabled() {
		return nil
	}
	for _, col := range []prometheus.Collector{c.cpuPercent, c.memoryRSS} {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples targets every interval until ctx is done or Stop is called.
func (c *UsageCollector) Start(ctx context.Context, targets func(context.Context) []Target) {
	if !c.Enabled() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.Collect(targets(ctx))
			}
		}
	}()
}

// Stop stops sampling and waits for the sampler goroutine.
func (c *UsageCollector) Stop() {
	if !c.Enabled() {
		return
	}
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// Collect takes one sample of every target and drops state for targets that
// are gone.
func (c *UsageCollector) Collect(targets []Target) {
	now := time.Now()
	next := make(map[string]Usage, len(targets))
	seen := make(map[int32]struct{})
	for _, t := range targets {
		if t.PID <= 0 {
			continue
		}
		u, pids, err := c.sample(t, now)
		if err != nil {
			c.log.Debug("usage sample failed", "unit", t.Unit, "script", t.Script, "pid", t.PID, "error", err)
			continue
		}
		for _, p := range pids {
			seen[p] = struct{}{}
		}
		next[usageKey(t.Unit, t.Script)] = u
	}

	c.mu.Lock()
	for key, old := range c.latest {
		if _, ok := next[key]; !ok {
			c.cpuPercent.DeleteLabelValues(old.Unit, old.Script)
			c.memoryRSS.DeleteLabelValues(old.Unit, old.Script)
		}
	}
	for pid := range c.procs {
		if _, ok := seen[pid]; !ok {
			delete(c.procs, pid)
		}
	}
	c.latest = next
	c.mu.Unlock()

	for _, u := range next {
		c.cpuPercent.WithLabelValues(u.Unit, u.Script).Set(u.CPUPercent)
		c.memoryRSS.WithLabelValues(u.Unit, u.Script).Set(float64(u.MemoryRSS))
	}
}

// Latest returns the most recent samples ordered by unit then script.
func (c *UsageCollector) Latest() []Usage {
	c.mu.RLock()
	out := make([]Usage, 0, len(c.latest))
	for _, u := range c.latest {
		out = append(out, u)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Unit != out[j].Unit {
			return out[i].Unit < out[j].Unit
		}
		return out[i].Script < out[j].Script
	})
	return out
}

func (c *UsageCollector) sample(t Target, now time.Time) (Usage, []int32, error) {
	root, err := c.proc(int32(t.PID))
	if err != nil {
		return Usage{}, nil, fmt.Errorf("open process: %w", err)
	}
	tree := []*process.Process{root}
	if children, err := root.Children(); err == nil {
		for _, ch := range children {
			if p, err := c.proc(ch.Pid); err == nil {
				tree = append(tree, p)
			}
		}
	}
	u := Usage{Unit: t.Unit, Script: t.Script, PID: root.Pid, Timestamp: now}
	pids := make([]int32, 0, len(tree))
	for _, p := range tree {
		mem, err := p.MemoryInfo()
		if err != nil {
			continue
		}
		cpu, err := p.Percent(0)
		if err != nil {
			cpu = 0
		}
		u.CPUPercent += cpu
		u.MemoryRSS += mem.RSS
		u.Processes++
		pids = append(pids, p.Pid)
	}
	if u.Processes == 0 {
		return Usage{}, nil, errors.New("no readable process in tree")
	}
	return u, pids, nil
}

func (c *UsageCollector) proc(pid int32) (*process.Process, error) {
	c.mu.RLock()
	p, ok := c.procs[pid]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.procs[pid] = p
	c.mu.Unlock()
	return p, nil
}

func usageKey(unit, script string) string { return unit + "\x00" + script }
