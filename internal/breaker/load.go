package breaker

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// LoadGuard samples the host load average on a fixed schedule and forces
// the breaker open when it exceeds Max.
type LoadGuard struct {
	Max      float64
	Interval time.Duration
	Breaker  *Breaker
	// Sample returns the 1-minute load average. Defaults to ReadLoadAverage.
	Sample func() (float64, error)

	cron *cron.Cron
}

// NewLoadGuard returns a guard checking every interval (30s if <= 0).
func NewLoadGuard(maxLoad float64, interval time.Duration, b *Breaker) *LoadGuard {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &LoadGuard{Max: maxLoad, Interval: interval, Breaker: b, Sample: ReadLoadAverage}
}

// Start schedules the check and stops it when ctx is done.
func (g *LoadGuard) Start(ctx context.Context) {
	g.cron = cron.New()
	g.cron.Schedule(cron.Every(g.Interval), cron.FuncJob(g.Check))
	g.cron.Start()
	go func() {
		<-ctx.Done()
		g.cron.Stop()
	}()
}

// Check samples once and trips the breaker on overload. Sampling errors are
// logged and otherwise ignored.
func (g *LoadGuard) Check() {
	sample := g.Sample
	if sample == nil {
		sample = ReadLoadAverage
	}
	load, err := sample()
	if err != nil {
		log.Printf("breaker: load check failed: %v", err)
		return
	}
	if load > g.Max {
		g.Breaker.Force(fmt.Sprintf("high load detected: %.2f > %.2f", load, g.Max))
	}
}

var uptimeLoad = regexp.MustCompile(`load averages?: ([\d.]+)`)

// ReadLoadAverage returns the 1-minute load average from /proc/loadavg,
// falling back to parsing uptime(1) where procfs is unavailable.
func ReadLoadAverage() (float64, error) {
	if data, err := os.ReadFile("/proc/loadavg"); err == nil {
		return parseProcLoadavg(string(data))
	}
	out, err := exec.Command("uptime").Output()
	if err != nil {
		return 0, fmt.Errorf("breaker: run uptime: %w", err)
	}
	return parseUptime(string(out))
}

func parseProcLoadavg(s string) (float64, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, fmt.Errorf("breaker: empty loadavg")
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("breaker: parse loadavg %q: %w", fields[0], err)
	}
	return v, nil
}

func parseUptime(s string) (float64, error) {
	m := uptimeLoad.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("breaker: no load average in uptime output")
	}
	v, err := strconv.ParseFloat(strings.TrimSuffix(m[1], "."), 64)
	if err != nil {
		return 0, fmt.Errorf("breaker: parse uptime load %q: %w", m[1], err)
	}
	return v, nil
}
