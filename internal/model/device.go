package model

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"ocrd/internal/common/execx"
)

// DeviceProbe reports the accelerator state. ok is false when nothing can be
// reported; callers then omit the device fields.
type DeviceProbe interface {
	Probe(ctx context.Context) (info DeviceInfo, ok bool)
}

// NvidiaSMIProbe queries nvidia-smi and caches the answer for TTL.
type NvidiaSMIProbe struct {
	Bin    string
	Runner execx.Runner
	TTL    time.Duration

	mu     sync.Mutex
	at     time.Time
	cached DeviceInfo
	ok     bool
}

func (p *NvidiaSMIProbe) Probe(ctx context.Context) (DeviceInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ttl := p.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if !p.at.IsZero() && time.Since(p.at) < ttl {
		return p.cached, p.ok
	}
	bin := p.Bin
	if bin == "" {
		bin = "nvidia-smi"
	}
	info, ok := DeviceInfo{}, false
	if p.Runner != nil {
		out, _, err := p.Runner.Run(ctx, bin, "--query-gpu=name,memory.used,memory.total", "--format=csv,noheader,nounits")
		if err == nil {
			info, ok = parseNvidiaSMI(string(out))
		}
	}
	p.cached, p.ok, p.at = info, ok, time.Now()
	return info, ok
}

// parseNvidiaSMI reads "name, used, total" rows. Memory is summed across
// devices; the name is taken from the first one.
func parseNvidiaSMI(out string) (DeviceInfo, bool) {
	var info DeviceInfo
	var used, total float64
	haveMem := true
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 3 {
			continue
		}
		if info.Count == 0 {
			info.Name = strings.TrimSpace(fields[0])
		}
		info.Count++
		u, err1 := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		t, err2 := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err1 != nil || err2 != nil {
			haveMem = false
			continue
		}
		used += u
		total += t
	}
	if info.Count == 0 {
		return DeviceInfo{}, false
	}
	if haveMem {
		info.MemoryUsedMB = &used
		info.MemoryTotalMB = &total
	}
	return info, true
}
