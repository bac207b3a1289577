package metrics

import "testing"

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"1K", 1024},
		{"2M", 2097152},
		{"0", 0},
		{"", 0},
		{"512", 512},
		{"1.5G", 1610612736},
		{"2T", 2 << 40},
		{"20Gi", 0},
		{"abc", 0},
		{"-1K", 0},
		{" 4K ", 4096},
		{"99999999999T", 0},
		{"16384P", 0},
		{"16383P", 16383 << 50},
	}
	for _, tt := range tests {
		if got := ParseSize(tt.in); got != tt.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseCPU(t *testing.T) {
	if v, err := parseCPU("12.5\n"); err != nil || v != 12.5 {
		t.Errorf("parseCPU = %v, %v", v, err)
	}
	if v, err := parseCPU("3,7\n"); err != nil || v != 3.7 {
		t.Errorf("parseCPU with comma = %v, %v", v, err)
	}
	if _, err := parseCPU(""); err == nil {
		t.Error("expected error for empty output")
	}
}

func TestParseMemory(t *testing.T) {
	mem, err := parseMemory("7976 2048 4096\n")
	if err != nil {
		t.Fatalf("parseMemory: %v", err)
	}
	if mem.Total != 7976<<20 || mem.Used != 2048<<20 || mem.Free != 4096<<20 {
		t.Errorf("unexpected memory %+v", mem)
	}
	want := float64(2048) / float64(7976) * 100
	if mem.Usage != want {
		t.Errorf("usage = %v, want %v", mem.Usage, want)
	}

	for _, bad := range []string{"", "1 2", "a b c", "1 2 3 4"} {
		if _, err := parseMemory(bad); err == nil {
			t.Errorf("parseMemory(%q) should fail", bad)
		}
	}
}

func TestParseDisk(t *testing.T) {
	out := "/ /dev/sda1 20G 5G 25%\n/boot /dev/sda2 512M 128M 25%\n/mnt\n"
	d := parseDisk(out)
	if len(d.MountPoints) != 3 {
		t.Fatalf("expected 3 mount points, got %d", len(d.MountPoints))
	}
	root := d.MountPoints[0]
	if root.MountPoint != "/" || root.FileSystem != "/dev/sda1" || root.Total != 20<<30 || root.Used != 5<<30 || root.Usage != 25 {
		t.Errorf("unexpected root mount %+v", root)
	}
	short := d.MountPoints[2]
	if short.MountPoint != "/mnt" || short.FileSystem != "unknown" || short.Total != 0 || short.Usage != 0 {
		t.Errorf("short line should yield zeroed defaults, got %+v", short)
	}
	wantTotal := uint64(20<<30 + 512<<20)
	wantUsed := uint64(5<<30 + 128<<20)
	if d.Total != wantTotal || d.Used != wantUsed || d.Free != wantTotal-wantUsed {
		t.Errorf("unexpected aggregate %+v", d)
	}
	if d.Usage != float64(wantUsed)/float64(wantTotal)*100 {
		t.Errorf("usage = %v", d.Usage)
	}

	if empty := parseDisk(""); len(empty.MountPoints) != 0 || empty.Usage != 0 {
		t.Errorf("empty output gave %+v", empty)
	}
}

func TestParseInterfaces(t *testing.T) {
	out := `1: lo: <LOOPBACK,UP,LOWER_UP> mtu 65536 qdisc noqueue state UNKNOWN group default qlen 1000
2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 qdisc fq_codel state UP group default qlen 1000
    link/ether 52:54:00:AB:cd:01 brd ff:ff:ff:ff:ff:ff
    inet 10.0.2.15/24 brd 10.0.2.255 scope global dynamic eth0
    inet 10.0.2.16/24 scope global secondary eth0
3: docker0: <NO-CARRIER,BROADCAST,MULTICAST,UP> mtu 1500 qdisc noqueue state DOWN group default
    link/ether 02:42:ac:11:00:01 brd ff:ff:ff:ff:ff:ff
    inet 172.17.0.1/16 brd 172.17.255.255 scope global docker0
4: wg0: <POINTOPOINT,NOARP,UP,LOWER_UP> mtu 1420 qdisc noqueue state UNKNOWN group default qlen 1000
    inet 10.8.0.1/32 scope global wg0
`
	ifaces := parseInterfaces(out)
	if len(ifaces) != 3 {
		t.Fatalf("expected 3 interfaces, got %d: %+v", len(ifaces), ifaces)
	}
	want := []Interface{
		{Name: "eth0", IP: "10.0.2.15", MAC: "52:54:00:ab:cd:01", SubnetMask: "255.255.255.0", Status: "up"},
		{Name: "docker0", IP: "172.17.0.1", MAC: "02:42:ac:11:00:01", SubnetMask: "255.255.0.0", Status: "down"},
		{Name: "wg0", IP: "10.8.0.1", MAC: "", SubnetMask: "255.255.255.255", Status: "up"},
	}
	for i, w := range want {
		if ifaces[i] != w {
			t.Errorf("interface %d = %+v, want %+v", i, ifaces[i], w)
		}
	}
}

func TestParseInterfaces_Placeholder(t *testing.T) {
	for _, out := range []string{"", "1: lo: <LOOPBACK,UP> mtu 65536\n", "garbage\n"} {
		ifaces := parseInterfaces(out)
		if len(ifaces) != 1 || ifaces[0] != placeholderInterface {
			t.Errorf("parseInterfaces(%q) = %+v, want placeholder", out, ifaces)
		}
	}
}

func TestParseUptimeAndProcesses(t *testing.T) {
	if v, err := parseUptime("12345.67\n"); err != nil || v != 12345.67 {
		t.Errorf("parseUptime = %v, %v", v, err)
	}
	if _, err := parseUptime("n/a"); err == nil {
		t.Error("expected uptime parse error")
	}
	if n, err := parseProcessCount("143\n"); err != nil || n != 142 {
		t.Errorf("parseProcessCount = %d, %v", n, err)
	}
	if _, err := parseProcessCount(""); err == nil {
		t.Error("expected process count parse error")
	}
}

func TestParseExtras(t *testing.T) {
	if got := parseCores("8\n"); got != 8 {
		t.Errorf("parseCores = %d", got)
	}
	if got := parseCores("x"); got != 0 {
		t.Errorf("parseCores(bad) = %d", got)
	}
	if got := parseLoadAverage("0.52 0.58 0.59 1/467 12345\n"); got != [3]float64{0.52, 0.58, 0.59} {
		t.Errorf("parseLoadAverage = %v", got)
	}

	dev := `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:  1000      10    0    0    0     0          0         0     1000      10    0    0    0     0       0          0
  eth0: 5000      50    0    0    0     0          0         0     3000      30    0    0    0     0       0          0
  eth1: 200       2     0    0    0     0          0         0     100       1     0    0    0     0       0          0
`
	tr := parseTraffic(dev)
	if tr.Received != 5200 || tr.Sent != 3100 || tr.Total != 8300 {
		t.Errorf("parseTraffic = %+v", tr)
	}
}
