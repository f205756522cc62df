package telemetry

import (
	"strconv"
	"strings"

	"github.com/acolita/shellconn/internal/prompt"
)

// promptSuffixes mark lines that are a shell prompt rather than output.
var promptSuffixes = []string{"]#", "$", "#", ">"}

// CleanOutput strips escape sequences, the echoed command and prompt lines
// from raw executor output and returns the remaining non-empty lines.
func CleanOutput(output, command string) []string {
	text := prompt.StripANSI(output)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	command = strings.TrimSpace(command)

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if command != "" && strings.HasSuffix(line, command) {
			continue
		}
		if isPromptLine(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func isPromptLine(line string) bool {
	for _, s := range promptSuffixes {
		if strings.HasSuffix(line, s) {
			return true
		}
	}
	return false
}

// ParseCPUModel reads "Model name:" from lscpu output, falling back to
// "Vendor ID:".
func ParseCPUModel(lines []string) string {
	for _, l := range lines {
		if v, ok := field(l, "Model name:"); ok && !strings.Contains(l, "BIOS") {
			return v
		}
	}
	for _, l := range lines {
		if v, ok := field(l, "Vendor ID:"); ok {
			return v
		}
	}
	return "Unknown CPU"
}

// ParseCPUCores reads the nproc output. It never returns less than 1.
func ParseCPUCores(lines []string) int {
	for _, l := range lines {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

// ParseCPUUsage computes 100 - idle from top's "Cpu(s)" line.
func ParseCPUUsage(lines []string) float64 {
	for _, l := range lines {
		if !strings.Contains(l, "Cpu(s)") {
			continue
		}
		if i := strings.Index(l, ":"); i >= 0 {
			l = l[i+1:]
		}
		for _, part := range strings.Split(l, ",") {
			// "96.5 id" on procps-ng, "96.5%id" on older top.
			f := strings.Fields(strings.Replace(part, "%", " ", 1))
			if len(f) == 2 && f[1] == "id" {
				if idle, err := strconv.ParseFloat(f[0], 64); err == nil {
					return 100 - idle
				}
			}
		}
	}
	return 0
}

// ParseCPUFrequency reads "CPU MHz:" from lscpu output.
func ParseCPUFrequency(lines []string) *float64 {
	for _, l := range lines {
		if v, ok := field(l, "CPU MHz:"); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// ParseTemperature converts a thermal zone reading in millidegrees.
func ParseTemperature(lines []string) *float64 {
	for _, l := range lines {
		if len(l) <= 3 {
			continue
		}
		if f, err := strconv.ParseFloat(l, 64); err == nil {
			c := f / 1000
			return &c
		}
	}
	return nil
}

// ParseMeminfo reads /proc/meminfo. Free memory is MemAvailable when the
// kernel reports it, MemFree otherwise.
func ParseMeminfo(lines []string) MemoryInfo {
	kb := meminfoValues(lines)

	var m MemoryInfo
	m.Total = kb["MemTotal"] / 1024
	if avail, ok := kb["MemAvailable"]; ok && avail > 0 {
		m.Free = avail / 1024
	} else {
		m.Free = kb["MemFree"] / 1024
	}
	if m.Free > m.Total {
		m.Free = m.Total
	}
	m.Used = m.Total - m.Free
	if m.Total > 0 {
		m.Usage = float64(m.Used) / float64(m.Total) * 100
	}
	return m
}

// ParseSwap reads the swap lines of /proc/meminfo. It returns nil when the
// host has no swap.
func ParseSwap(lines []string) *SwapInfo {
	kb := meminfoValues(lines)
	total := kb["SwapTotal"] / 1024
	if total == 0 {
		return nil
	}
	free := kb["SwapFree"] / 1024
	if free > total {
		free = total
	}
	s := &SwapInfo{Total: total, Free: free, Used: total - free}
	s.Usage = float64(s.Used) / float64(s.Total) * 100
	return s
}

func meminfoValues(lines []string) map[string]uint64 {
	out := make(map[string]uint64)
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) < 2 || !strings.HasSuffix(f[0], ":") {
			continue
		}
		if v, err := strconv.ParseUint(f[1], 10, 64); err == nil {
			out[strings.TrimSuffix(f[0], ":")] = v
		}
	}
	return out
}

// ParseDF reads `df -h` output, skipping the header and virtual
// filesystems.
func ParseDF(lines []string) []StorageInfo {
	var out []StorageInfo
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) < 6 || f[0] == "Filesystem" {
			continue
		}
		device, mount := f[0], f[5]
		if isVirtualFilesystem(device, mount) {
			continue
		}
		s := StorageInfo{
			Device:     device,
			MountPoint: mount,
			Total:      ParseSizeMB(f[1]),
			Used:       ParseSizeMB(f[2]),
			Free:       ParseSizeMB(f[3]),
		}
		if s.Total > 0 {
			s.Usage = float64(s.Used) / float64(s.Total) * 100
		}
		out = append(out, s)
	}
	return out
}

var (
	virtualDevices = []string{"tmpfs", "devtmpfs", "overlay", "squashfs", "sysfs", "proc", "udev", "none"}
	virtualMounts  = []string{"/proc", "/sys", "/dev", "/run/user", "/snap", "/var/lib/docker"}
)

func isVirtualFilesystem(device, mount string) bool {
	for _, v := range virtualDevices {
		if strings.HasPrefix(device, v) {
			return true
		}
	}
	for _, v := range virtualMounts {
		if strings.HasPrefix(mount, v) {
			// Real block devices mounted under /dev stay.
			return !(strings.HasPrefix(mount, "/dev") && strings.HasPrefix(device, "/dev/"))
		}
	}
	return false
}

// ParseSizeMB converts a human-readable df size (512K, 20G, 1.5T) to MB.
func ParseSizeMB(s string) uint64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.') {
		end++
	}
	n, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0
	}
	switch unit := strings.TrimSuffix(strings.TrimSuffix(s[end:], "B"), "I"); unit {
	case "T":
		return uint64(n * 1024 * 1024)
	case "G":
		return uint64(n * 1024)
	case "M":
		return uint64(n)
	case "K":
		return uint64(n / 1024)
	case "":
		return uint64(n / 1024 / 1024)
	default:
		return 0
	}
}

// ApplyDiskTypes marks each storage entry SSD or HDD from
// `lsblk -d -o NAME,TYPE,ROTA` output. The longest disk name that
// prefixes the partition name wins, so nvme0n1p2 maps to nvme0n1.
func ApplyDiskTypes(storage []StorageInfo, lsblk []string) {
	rota := make(map[string]string)
	for _, l := range lsblk {
		f := strings.Fields(l)
		if len(f) < 3 || f[0] == "NAME" {
			continue
		}
		// -P output: NAME="sda" TYPE="disk" ROTA="1"
		for i := range f {
			if _, v, ok := strings.Cut(f[i], "="); ok {
				f[i] = strings.Trim(v, `"`)
			}
		}
		switch f[len(f)-1] {
		case "0":
			rota[f[0]] = DiskSSD
		case "1":
			rota[f[0]] = DiskHDD
		}
	}

	for i := range storage {
		name, ok := strings.CutPrefix(storage[i].Device, "/dev/")
		if !ok {
			continue
		}
		best := ""
		for disk := range rota {
			if strings.HasPrefix(name, disk) && len(disk) > len(best) {
				best = disk
			}
		}
		if best != "" {
			storage[i].Type = rota[best]
		}
	}
}

// ParseNetDev reads /proc/net/dev. rx is the first counter column and tx
// the ninth; lo is skipped.
func ParseNetDev(lines []string) []NetworkInterface {
	var out []NetworkInterface
	for _, l := range lines {
		name, rest, ok := strings.Cut(l, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "lo" {
			continue
		}
		stats := strings.Fields(rest)
		if len(stats) < 16 {
			continue
		}
		rx, err1 := strconv.ParseUint(stats[0], 10, 64)
		tx, err2 := strconv.ParseUint(stats[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, NetworkInterface{Name: name, Rx: rx, Tx: tx, Status: "unknown"})
	}
	return out
}

// ApplyLinkStatus sets up/down on each interface from `ip addr show`.
func ApplyLinkStatus(ifaces []NetworkInterface, ipAddr []string) {
	flags := make(map[string]string)
	for _, l := range ipAddr {
		// "2: eth0: <BROADCAST,MULTICAST,UP,LOWER_UP> mtu 1500 ... state UP"
		f := strings.Fields(l)
		if len(f) < 3 || !strings.HasSuffix(f[0], ":") {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSuffix(f[0], ":")); err != nil {
			continue
		}
		name := strings.TrimSuffix(f[1], ":")
		if i := strings.Index(name, "@"); i >= 0 {
			name = name[:i]
		}
		flags[name] = l
	}

	for i := range ifaces {
		line, ok := flags[ifaces[i].Name]
		if !ok {
			continue
		}
		ifaces[i].Status = linkState(line)
	}
}

// linkState prefers the operational state and falls back to the
// administrative UP flag.
func linkState(line string) string {
	switch {
	case strings.Contains(line, "state UP"):
		return "up"
	case strings.Contains(line, "state DOWN"):
		return "down"
	}
	if start, end := strings.Index(line, "<"), strings.Index(line, ">"); start >= 0 && end > start {
		for _, flag := range strings.Split(line[start+1:end], ",") {
			if flag == "UP" {
				return "up"
			}
		}
	}
	return "down"
}

// field returns the trimmed text after key when line starts with key.
func field(line, key string) (string, bool) {
	v, ok := strings.CutPrefix(line, key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}
