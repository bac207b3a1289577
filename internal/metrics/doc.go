// Package metrics samples host resource usage over SSH.
//
// A sample runs a fixed battery of shell commands on an existing session and
// parses their output. The core battery (cpu, memory, disk, network, uptime,
// process count) is all-or-nothing: if any of those commands fails or its
// output cannot be parsed, no sample is produced. Core count, load average
// and interface traffic are best-effort extras that fall back to zero.
//
// Successful samples are cached per server id, not per identity, so the
// latest sample survives reconnects. A failed sample leaves the previous one
// in place. The Scheduler refreshes every connected server on a cron timer.
package metrics
