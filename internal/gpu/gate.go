// SPDX-License-Identifier: MIT

package gpu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/videocatalog/videocatalog/internal/config"
	"github.com/videocatalog/videocatalog/internal/db"
	"github.com/videocatalog/videocatalog/internal/log"
	"github.com/videocatalog/videocatalog/internal/scheduler"
)

var _ scheduler.GPUGate = (*Prober)(nil)

// AssistantDisabledMessage is the user-visible reason shown whenever the
// GPU gate keeps the assistant off.
const AssistantDisabledMessage = "AI disabled (GPU required)"

// Prober caches the startup probe and answers the two gates: assistant
// readiness (total VRAM floor, hwaccel) and job admission (policy plus free
// VRAM against the safety margin, probed fresh). Implements
// scheduler.GPUGate.
type Prober struct {
	cfg      config.GPUConfig
	safetyMB int
	run      runner
	logger   zerolog.Logger
	now      func() time.Time

	mu   sync.RWMutex
	last Status
}

func NewProber(cfg config.GPUConfig, safetyMB int) *Prober {
	p := &Prober{
		cfg:      cfg,
		safetyMB: safetyMB,
		run:      execRunner,
		logger:   log.WithComponent("gpu"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	p.last = p.probe(context.Background())
	return p
}

// Status returns the cached probe result.
func (p *Prober) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Reprobe runs a fresh probe on explicit request and caches it.
func (p *Prober) Reprobe(ctx context.Context) Status {
	st := p.probe(ctx)
	p.mu.Lock()
	p.last = st
	p.mu.Unlock()
	return st
}

// AssistantReady reports whether the assistant gate is open, with the
// user-visible reason when it is not.
func (p *Prober) AssistantReady() (bool, string) {
	st := p.Status()
	if !st.AssistantReady {
		return false, AssistantDisabledMessage
	}
	return true, ""
}

// ReadyForJobs implements the heavy_ai_gpu admission check: policy must
// allow GPU work and a fresh probe must show free VRAM at or above the
// safety margin.
func (p *Prober) ReadyForJobs() (bool, string) {
	if p.cfg.Policy == config.GPUCPUOnly {
		return false, "gpu policy is CPU_ONLY"
	}
	st := p.Reprobe(context.Background())
	if !st.Present {
		if p.cfg.Policy == config.GPUForceGPU {
			return false, "FORCE_GPU set but no device found"
		}
		return false, "no gpu device"
	}
	margin := int64(p.safetyMB) << 20
	if margin <= 0 {
		margin = int64(p.cfg.MinFreeVRAMMB) << 20
	}
	for _, d := range st.Devices {
		if d.FreeBytes >= margin {
			return true, ""
		}
	}
	return false, fmt.Sprintf("free VRAM below safety margin (%d MiB required)", margin>>20)
}

// probe collects device, VRAM and hwaccel signals and derives the assistant
// verdict.
func (p *Prober) probe(ctx context.Context) Status {
	st := Status{ProbedUTC: db.FormatUTC(p.now())}

	if p.cfg.Policy == config.GPUCPUOnly {
		st.Reason = "gpu policy is CPU_ONLY"
		p.logger.Info().Str("policy", string(p.cfg.Policy)).Msg("gpu probing skipped")
		return st
	}

	out, err := p.run(ctx, "nvidia-smi", "--query-gpu=name,memory.total,memory.free", "--format=csv,noheader,nounits")
	if err != nil {
		st.Reason = "no gpu device detected"
		p.logger.Info().Err(err).Msg("nvidia-smi unavailable")
	} else if devices, perr := parseSMI(out); perr != nil {
		st.Reason = "gpu probe output unreadable"
		p.logger.Warn().Err(perr).Msg("nvidia-smi parse failed")
	} else if len(devices) > 0 {
		st.Present = true
		st.Devices = devices
	} else {
		st.Reason = "no gpu device detected"
	}

	if hwOut, err := p.run(ctx, "ffmpeg", "-hide_banner", "-hwaccels"); err == nil {
		st.HWAccels = parseHWAccels(hwOut)
		st.HWAccelOK = usableHWAccel(st.HWAccels)
	} else {
		p.logger.Info().Err(err).Msg("ffmpeg hwaccel probe unavailable")
	}

	st.AssistantReady, st.Reason = p.assistantVerdict(st)
	if !st.AssistantReady {
		p.logger.Info().Str("reason", st.Reason).Msg("assistant gate closed")
	}
	return st
}

func (p *Prober) assistantVerdict(st Status) (bool, string) {
	if !st.Present {
		if st.Reason != "" {
			return false, st.Reason
		}
		return false, "no gpu device detected"
	}
	var maxTotal int64
	for _, d := range st.Devices {
		if d.TotalBytes > maxTotal {
			maxTotal = d.TotalBytes
		}
	}
	if maxTotal < RequiredVRAMBytes {
		return false, fmt.Sprintf("VRAM %d MiB below required %d MiB", maxTotal>>20, int64(RequiredVRAMBytes)>>20)
	}
	if !st.HWAccelOK {
		return false, "no usable ffmpeg hwaccel"
	}
	return true, ""
}
