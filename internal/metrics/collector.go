package metrics

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/sshmanager"
)

// Executor runs commands on a connected identity.
type Executor interface {
	ExecuteCommand(ctx context.Context, identity, command string) sshmanager.CommandResult
	Status(identity string) (sshmanager.SessionRecord, bool)
}

// Collector samples hosts and caches the results.
type Collector struct {
	exec   Executor
	cache  *Cache
	gauges *Gauges
	nowFn  func() time.Time
}

// NewCollector returns a Collector writing to cache. gauges may be nil.
func NewCollector(exec Executor, cache *Cache, gauges *Gauges) *Collector {
	return &Collector{exec: exec, cache: cache, gauges: gauges, nowFn: time.Now}
}

// Cache returns the collector's cache.
func (c *Collector) Cache() *Cache {
	return c.cache
}

// Sample collects metrics from identity. On error no sample is returned and
// the cache is left untouched. A successful sample is cached under the
// server id of identity's session record.
func (c *Collector) Sample(ctx context.Context, identity string) (*Sample, error) {
	rec, ok := c.exec.Status(identity)
	if !ok || !rec.Connected {
		return nil, fmt.Errorf("sample %s: %w", identity, sshmanager.ErrNotConnected)
	}

	s, err := c.collect(ctx, identity)
	if err != nil {
		log.Printf("[metrics] sample %s failed: %v", logutil.SanitizeForLog(identity), err)
		return nil, fmt.Errorf("sample %s: %w", identity, err)
	}

	c.cache.Put(rec.ServerID, s)
	if c.gauges != nil {
		c.gauges.Observe(rec.ServerID, s)
	}
	return s, nil
}

func (c *Collector) collect(ctx context.Context, identity string) (*Sample, error) {
	var outputs [6]string
	for i, cmd := range []string{cmdCPU, cmdMemory, cmdDisk, cmdNetwork, cmdUptime, cmdProcesses} {
		out, err := c.run(ctx, identity, cmd)
		if err != nil {
			return nil, err
		}
		outputs[i] = out
	}

	s := &Sample{CollectedAt: c.nowFn()}
	var err error
	if s.CPU.Usage, err = parseCPU(outputs[0]); err != nil {
		return nil, err
	}
	if s.Memory, err = parseMemory(outputs[1]); err != nil {
		return nil, err
	}
	s.Disk = parseDisk(outputs[2])
	s.Network.Interfaces = parseInterfaces(outputs[3])
	if s.Uptime, err = parseUptime(outputs[4]); err != nil {
		return nil, err
	}
	if s.Processes, err = parseProcessCount(outputs[5]); err != nil {
		return nil, err
	}

	if out, err := c.run(ctx, identity, cmdCores); err == nil {
		s.CPU.Cores = parseCores(out)
	}
	if out, err := c.run(ctx, identity, cmdLoadAvg); err == nil {
		s.CPU.LoadAverage = parseLoadAverage(out)
	}
	if out, err := c.run(ctx, identity, cmdTraffic); err == nil {
		s.Network.Traffic = parseTraffic(out)
	}
	return s, nil
}

func (c *Collector) run(ctx context.Context, identity, cmd string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res := c.exec.ExecuteCommand(ctx, identity, cmd)
	if !res.Success {
		reason := strings.TrimSpace(res.Error)
		if reason == "" && res.ExitCode != nil {
			reason = fmt.Sprintf("exit status %d", *res.ExitCode)
		}
		return "", fmt.Errorf("command %q failed: %s", logutil.Preview(cmd, 40), reason)
	}
	return res.Output, nil
}
