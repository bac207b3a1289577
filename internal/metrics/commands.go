package metrics

// Core battery. A failure in any of these aborts the sample.
const (
	cmdCPU       = `top -bn1 | grep 'Cpu(s)' | awk '{print $2}' | awk -F'%' '{print $1}'`
	cmdMemory    = `free -m | grep '^Mem:' | awk '{print $2,$3,$4}'`
	cmdDisk      = `df -h | grep -v '^Filesystem' | awk '{print $6,$1,$2,$3,$5}'`
	cmdNetwork   = `ip addr show | grep -E '^[0-9]+:|inet |link/ether' | grep -v '127.0.0.1'`
	cmdUptime    = `cat /proc/uptime | awk '{print $1}'`
	cmdProcesses = `ps aux | wc -l`
)

// Best-effort extras.
const (
	cmdCores   = `nproc`
	cmdLoadAvg = `cat /proc/loadavg`
	cmdTraffic = `cat /proc/net/dev`
)
