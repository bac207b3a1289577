package metrics

import (
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var sizePattern = regexp.MustCompile(`^([\d.]+)([KMGTP]?)$`)

var sizeUnits = map[string]float64{
	"":  1,
	"K": 1 << 10,
	"M": 1 << 20,
	"G": 1 << 30,
	"T": 1 << 40,
	"P": 1 << 50,
}

// ParseSize converts a df -h style size ("512M", "1.5G", "0") to bytes.
// Units are binary multiples. Anything unparseable or too large for a
// uint64 is 0.
func ParseSize(s string) uint64 {
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 {
		return 0
	}
	b := math.Round(v * sizeUnits[m[2]])
	if b >= math.MaxUint64 {
		return 0
	}
	return uint64(b)
}

func parseCPU(out string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(out, ",", ".")), 64)
	if err != nil {
		return 0, fmt.Errorf("parse cpu usage %q: %w", strings.TrimSpace(out), err)
	}
	return v, nil
}

// parseMemory reads "total used free" in MB.
func parseMemory(out string) (Memory, error) {
	fields := strings.Fields(out)
	if len(fields) != 3 {
		return Memory{}, fmt.Errorf("parse memory: expected 3 fields, got %q", strings.TrimSpace(out))
	}
	var mb [3]uint64
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return Memory{}, fmt.Errorf("parse memory field %q: %w", f, err)
		}
		mb[i] = v << 20
	}
	mem := Memory{Total: mb[0], Used: mb[1], Free: mb[2]}
	if mem.Total > 0 {
		mem.Usage = float64(mem.Used) / float64(mem.Total) * 100
	}
	return mem, nil
}

// parseDisk reads "mount fs size used use%" lines. Short or malformed lines
// yield a zeroed mount point instead of an error.
func parseDisk(out string) Disk {
	var d Disk
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		mp := MountPoint{MountPoint: "/", FileSystem: "unknown"}
		if len(parts) >= 1 {
			mp.MountPoint = parts[0]
		}
		if len(parts) >= 2 {
			mp.FileSystem = parts[1]
		}
		if len(parts) >= 5 {
			mp.Total = ParseSize(parts[2])
			mp.Used = ParseSize(parts[3])
			if u, err := strconv.ParseFloat(strings.TrimSuffix(parts[4], "%"), 64); err == nil {
				mp.Usage = u
			}
		}
		d.MountPoints = append(d.MountPoints, mp)
		d.Total += mp.Total
		d.Used += mp.Used
		if mp.Total > mp.Used {
			d.Free += mp.Total - mp.Used
		}
	}
	if d.Total > 0 {
		d.Usage = float64(d.Used) / float64(d.Total) * 100
	}
	return d
}

var (
	ifaceHeader = regexp.MustCompile(`^\d+:\s+([^:@\s]+)[@:]`)
	inetLine    = regexp.MustCompile(`inet\s+(\d+\.\d+\.\d+\.\d+)(?:/(\d+))?`)
	etherLine   = regexp.MustCompile(`link/ether\s+([0-9a-fA-F:]{17})`)
)

// placeholderInterface is reported when no interface could be parsed.
var placeholderInterface = Interface{
	Name:       "eth0",
	IP:         "0.0.0.0",
	MAC:        "00:00:00:00:00:00",
	SubnetMask: "255.255.255.0",
	Status:     "up",
}

// parseInterfaces scans `ip addr show` output: a header line per interface
// followed by its link/ether and inet lines. Loopback is skipped. Only the
// first IPv4 address of each interface is reported.
func parseInterfaces(out string) []Interface {
	var (
		ifaces  []Interface
		name    string
		mac     string
		status  string
		emitted bool
	)
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if m := ifaceHeader.FindStringSubmatch(trimmed); m != nil {
			name, mac, emitted = m[1], "", false
			status = linkStatus(trimmed)
			continue
		}
		if m := etherLine.FindStringSubmatch(trimmed); m != nil {
			mac = strings.ToLower(m[1])
			continue
		}
		m := inetLine.FindStringSubmatch(trimmed)
		if m == nil || name == "" || emitted || name == "lo" || strings.HasPrefix(m[1], "127.") {
			continue
		}
		iface := Interface{
			Name:       name,
			IP:         m[1],
			MAC:        mac,
			SubnetMask: "255.255.255.0",
			Status:     status,
		}
		if m[2] != "" {
			if bits, err := strconv.Atoi(m[2]); err == nil && bits >= 0 && bits <= 32 {
				iface.SubnetMask = net.IP(net.CIDRMask(bits, 32)).String()
			}
		}
		ifaces = append(ifaces, iface)
		emitted = true
	}
	if len(ifaces) == 0 {
		return []Interface{placeholderInterface}
	}
	return ifaces
}

// linkStatus prefers the operstate ("state UP") and falls back to the UP flag.
func linkStatus(header string) string {
	switch {
	case strings.Contains(header, "state UP"):
		return "up"
	case strings.Contains(header, "state DOWN"):
		return "down"
	case strings.Contains(header, ",UP") || strings.Contains(header, "<UP"):
		return "up"
	}
	return "down"
}

func parseUptime(out string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse uptime %q: %w", strings.TrimSpace(out), err)
	}
	return v, nil
}

// parseProcessCount reads the line count of `ps aux`, minus its header.
func parseProcessCount(out string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("parse process count %q: %w", strings.TrimSpace(out), err)
	}
	if n > 0 {
		n--
	}
	return n, nil
}

func parseCores(out string) int {
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseLoadAverage(out string) [3]float64 {
	var la [3]float64
	fields := strings.Fields(out)
	for i := 0; i < 3 && i < len(fields); i++ {
		if v, err := strconv.ParseFloat(fields[i], 64); err == nil {
			la[i] = v
		}
	}
	return la
}

// parseTraffic sums rx/tx bytes from /proc/net/dev, skipping loopback.
func parseTraffic(out string) Traffic {
	var t Traffic
	for _, line := range strings.Split(out, "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "lo" || name == "" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		rx, err1 := strconv.ParseUint(fields[0], 10, 64)
		tx, err2 := strconv.ParseUint(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		t.Received += rx
		t.Sent += tx
	}
	t.Total = t.Received + t.Sent
	return t
}
