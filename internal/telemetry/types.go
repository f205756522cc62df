// Package telemetry collects hardware information from remote hosts by
// running ordinary shell commands over a session and parsing their output.
package telemetry

import "time"

// HardwareInfo is one snapshot of a host.
type HardwareInfo struct {
	ConnectionID string        `json:"connection_id"`
	CPU          CPUInfo       `json:"cpu"`
	Memory       MemoryInfo    `json:"memory"`
	Storage      []StorageInfo `json:"storage"`
	Network      NetworkInfo   `json:"network"`
	Timestamp    time.Time     `json:"timestamp"`
}

// CPUInfo describes the processor. Frequency (MHz) and Temperature
// (Celsius) are nil when the host does not report them.
type CPUInfo struct {
	Model       string   `json:"model"`
	Cores       int      `json:"cores"`
	Usage       float64  `json:"usage"`
	Frequency   *float64 `json:"frequency,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// MemoryInfo sizes are in MB.
type MemoryInfo struct {
	Total uint64    `json:"total"`
	Used  uint64    `json:"used"`
	Free  uint64    `json:"free"`
	Usage float64   `json:"usage"`
	Swap  *SwapInfo `json:"swap,omitempty"`
}

// SwapInfo sizes are in MB.
type SwapInfo struct {
	Total uint64  `json:"total"`
	Used  uint64  `json:"used"`
	Free  uint64  `json:"free"`
	Usage float64 `json:"usage"`
}

// Disk types reported in StorageInfo.Type.
const (
	DiskSSD = "ssd"
	DiskHDD = "hdd"
)

// StorageInfo is one mounted filesystem. Sizes are in MB.
type StorageInfo struct {
	Device     string  `json:"device"`
	MountPoint string  `json:"mount_point"`
	Total      uint64  `json:"total"`
	Used       uint64  `json:"used"`
	Free       uint64  `json:"free"`
	Usage      float64 `json:"usage"`
	Type       string  `json:"type,omitempty"`
}

// NetworkInfo aggregates every non-loopback interface. Speeds are MB/s.
type NetworkInfo struct {
	Interfaces []NetworkInterface `json:"interfaces"`
	TotalRx    uint64             `json:"total_rx"`
	TotalTx    uint64             `json:"total_tx"`
	RxSpeed    float64            `json:"rx_speed"`
	TxSpeed    float64            `json:"tx_speed"`
}

// NetworkInterface counters are cumulative bytes since boot.
type NetworkInterface struct {
	Name    string  `json:"name"`
	Status  string  `json:"status"`
	Rx      uint64  `json:"rx"`
	Tx      uint64  `json:"tx"`
	RxSpeed float64 `json:"rx_speed"`
	TxSpeed float64 `json:"tx_speed"`
}
