package metrics

import "time"

// Sample is one point-in-time snapshot of a host.
type Sample struct {
	CPU         CPU       `json:"cpu"`
	Memory      Memory    `json:"memory"`
	Disk        Disk      `json:"disk"`
	Network     Network   `json:"network"`
	Uptime      float64   `json:"uptime"`
	Processes   int       `json:"processes"`
	CollectedAt time.Time `json:"collectedAt"`
}

type CPU struct {
	Usage       float64    `json:"usage"`
	Cores       int        `json:"cores"`
	LoadAverage [3]float64 `json:"loadAverage"`
}

// Memory sizes are in bytes; Usage is a percentage.
type Memory struct {
	Total uint64  `json:"total"`
	Used  uint64  `json:"used"`
	Free  uint64  `json:"free"`
	Usage float64 `json:"usage"`
}

// Disk aggregates all mount points. Usage is used/total as a percentage.
type Disk struct {
	Total       uint64       `json:"total"`
	Used        uint64       `json:"used"`
	Free        uint64       `json:"free"`
	Usage       float64      `json:"usage"`
	MountPoints []MountPoint `json:"mountPoints"`
}

type MountPoint struct {
	MountPoint string  `json:"mountPoint"`
	FileSystem string  `json:"fileSystem"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Usage      float64 `json:"usage"`
}

type Network struct {
	Interfaces []Interface `json:"interfaces"`
	Traffic    Traffic     `json:"traffic"`
}

type Interface struct {
	Name       string `json:"name"`
	IP         string `json:"ip"`
	MAC        string `json:"mac"`
	SubnetMask string `json:"subnet"`
	Status     string `json:"status"`
}

// Traffic is cumulative bytes across non-loopback interfaces.
type Traffic struct {
	Received uint64 `json:"received"`
	Sent     uint64 `json:"sent"`
	Total    uint64 `json:"total"`
}

// clone returns a deep copy of s.
func (s *Sample) clone() *Sample {
	if s == nil {
		return nil
	}
	c := *s
	c.Disk.MountPoints = append([]MountPoint(nil), s.Disk.MountPoints...)
	c.Network.Interfaces = append([]Interface(nil), s.Network.Interfaces...)
	return &c
}
