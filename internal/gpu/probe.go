// SPDX-License-Identifier: MIT

// Package gpu probes GPU readiness for the assistant gate and the
// heavy_ai_gpu job class. Probing shells out to nvidia-smi and ffmpeg; both
// commands are injectable so tests never depend on real hardware.
package gpu

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/videocatalog/videocatalog/internal/fault"
)

// RequiredVRAMBytes is the total-VRAM floor below which the assistant stays
// disabled.
const RequiredVRAMBytes = 8 << 30

const probeTimeout = 5 * time.Second

// Device is one probed GPU.
type Device struct {
	Name       string `json:"name"`
	TotalBytes int64  `json:"total_bytes"`
	FreeBytes  int64  `json:"free_bytes"`
}

// Status is one probe result.
type Status struct {
	ProbedUTC      string   `json:"probed_utc"`
	Present        bool     `json:"present"`
	Devices        []Device `json:"devices,omitempty"`
	HWAccels       []string `json:"hwaccels,omitempty"`
	HWAccelOK      bool     `json:"hwaccel_ok"`
	AssistantReady bool     `json:"assistant_ready"`
	Reason         string   `json:"reason,omitempty"`
}

// runner executes a probe command and returns its stdout.
type runner func(ctx context.Context, name string, args ...string) (string, error)

func execRunner(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return "", fault.Wrap(fault.Unavailable, name+" probe", err)
	}
	return string(out), nil
}

// parseSMI reads `nvidia-smi --query-gpu=name,memory.total,memory.free
// --format=csv,noheader,nounits` output. Memory figures are MiB.
func parseSMI(out string) ([]Device, error) {
	var devices []Device
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fault.Newf(fault.Internal, "unexpected nvidia-smi line %q", line)
		}
		total, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return nil, fault.Wrap(fault.Internal, "parse memory.total", err)
		}
		free, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fault.Wrap(fault.Internal, "parse memory.free", err)
		}
		devices = append(devices, Device{
			Name:       strings.TrimSpace(parts[0]),
			TotalBytes: total << 20,
			FreeBytes:  free << 20,
		})
	}
	return devices, nil
}

// parseHWAccels reads `ffmpeg -hide_banner -hwaccels` output: a header line
// followed by one method per line.
func parseHWAccels(out string) []string {
	var accels []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(strings.ToLower(line), "hardware acceleration methods") {
			continue
		}
		accels = append(accels, line)
	}
	return accels
}

// usableHWAccel reports whether any non-software acceleration method is
// offered.
func usableHWAccel(accels []string) bool {
	for _, a := range accels {
		switch a {
		case "cuda", "nvdec", "cuvid", "vaapi", "vdpau", "qsv", "d3d11va", "videotoolbox":
			return true
		}
	}
	return false
}
