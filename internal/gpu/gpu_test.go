// SPDX-License-Identifier: MIT

package gpu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videocatalog/videocatalog/internal/config"
)

const (
	smiBigCard   = "NVIDIA GeForce RTX 3090, 24576, 20000\n"
	smiSmallCard = "NVIDIA GeForce GTX 1650, 4096, 3900\n"
	hwaccelsOut  = "Hardware acceleration methods:\ncuda\nvaapi\n"
	hwaccelsNone = "Hardware acceleration methods:\n"
)

// fakeRunner answers probe commands from canned outputs keyed by binary name.
func fakeRunner(outputs map[string]string) runner {
	return func(_ context.Context, name string, _ ...string) (string, error) {
		out, ok := outputs[name]
		if !ok {
			return "", errors.New(name + ": executable file not found")
		}
		return out, nil
	}
}

func newProber(cfg config.GPUConfig, safetyMB int, outputs map[string]string) *Prober {
	return &Prober{
		cfg:      cfg,
		safetyMB: safetyMB,
		run:      fakeRunner(outputs),
		logger:   zerolog.Nop(),
		now:      func() time.Time { return time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC) },
	}
}

func TestParseSMI(t *testing.T) {
	devices, err := parseSMI(smiBigCard + smiSmallCard)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "NVIDIA GeForce RTX 3090", devices[0].Name)
	assert.Equal(t, int64(24576)<<20, devices[0].TotalBytes)
	assert.Equal(t, int64(20000)<<20, devices[0].FreeBytes)

	_, err = parseSMI("garbage without commas\n")
	assert.Error(t, err)

	devices, err = parseSMI("\n\n")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestParseHWAccels(t *testing.T) {
	assert.Equal(t, []string{"cuda", "vaapi"}, parseHWAccels(hwaccelsOut))
	assert.Empty(t, parseHWAccels(hwaccelsNone))
	assert.True(t, usableHWAccel([]string{"cuda"}))
	assert.False(t, usableHWAccel([]string{"something_else"}))
}

func TestProbeAssistantReady(t *testing.T) {
	p := newProber(config.GPUConfig{Policy: config.GPUAuto}, 512, map[string]string{
		"nvidia-smi": smiBigCard,
		"ffmpeg":     hwaccelsOut,
	})
	st := p.Reprobe(context.Background())

	assert.True(t, st.Present)
	assert.True(t, st.HWAccelOK)
	assert.True(t, st.AssistantReady)
	assert.Empty(t, st.Reason)

	ok, reason := p.AssistantReady()
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestProbeGatesOnSmallVRAM(t *testing.T) {
	p := newProber(config.GPUConfig{Policy: config.GPUAuto}, 512, map[string]string{
		"nvidia-smi": smiSmallCard,
		"ffmpeg":     hwaccelsOut,
	})
	st := p.Reprobe(context.Background())

	assert.True(t, st.Present)
	assert.False(t, st.AssistantReady)
	assert.Contains(t, st.Reason, "VRAM")

	ok, reason := p.AssistantReady()
	assert.False(t, ok)
	assert.Equal(t, AssistantDisabledMessage, reason)
}

func TestProbeGatesOnMissingDevice(t *testing.T) {
	p := newProber(config.GPUConfig{Policy: config.GPUAuto}, 512, map[string]string{
		"ffmpeg": hwaccelsOut,
	})
	st := p.Reprobe(context.Background())

	assert.False(t, st.Present)
	assert.False(t, st.AssistantReady)
	assert.Equal(t, "no gpu device detected", st.Reason)
}

func TestProbeGatesOnMissingHWAccel(t *testing.T) {
	p := newProber(config.GPUConfig{Policy: config.GPUAuto}, 512, map[string]string{
		"nvidia-smi": smiBigCard,
		"ffmpeg":     hwaccelsNone,
	})
	st := p.Reprobe(context.Background())

	assert.True(t, st.Present)
	assert.False(t, st.AssistantReady)
	assert.Equal(t, "no usable ffmpeg hwaccel", st.Reason)
}

func TestReadyForJobs(t *testing.T) {
	t.Run("cpu only policy", func(t *testing.T) {
		p := newProber(config.GPUConfig{Policy: config.GPUCPUOnly}, 512, nil)
		ok, reason := p.ReadyForJobs()
		assert.False(t, ok)
		assert.Equal(t, "gpu policy is CPU_ONLY", reason)
	})

	t.Run("free vram above margin", func(t *testing.T) {
		p := newProber(config.GPUConfig{Policy: config.GPUAuto}, 512, map[string]string{
			"nvidia-smi": smiBigCard,
			"ffmpeg":     hwaccelsOut,
		})
		ok, reason := p.ReadyForJobs()
		assert.True(t, ok)
		assert.Empty(t, reason)
	})

	t.Run("free vram below margin", func(t *testing.T) {
		p := newProber(config.GPUConfig{Policy: config.GPUAuto}, 30000, map[string]string{
			"nvidia-smi": smiBigCard,
			"ffmpeg":     hwaccelsOut,
		})
		ok, reason := p.ReadyForJobs()
		assert.False(t, ok)
		assert.Contains(t, reason, "safety margin")
	})

	t.Run("force gpu without device", func(t *testing.T) {
		p := newProber(config.GPUConfig{Policy: config.GPUForceGPU}, 512, nil)
		ok, reason := p.ReadyForJobs()
		assert.False(t, ok)
		assert.Equal(t, "FORCE_GPU set but no device found", reason)
	})
}
