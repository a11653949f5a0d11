package hostinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	log "github.com/sirupsen/logrus"
	syscpu "golang.org/x/sys/cpu"

	"detection-quant-bench/internal/core/domain"
	ports "detection-quant-bench/internal/core/ports/output"
)

type probe struct{}

// NewProbe describes the machine the benchmark runs on.
func NewProbe() ports.HostProbe {
	return probe{}
}

func (probe) Describe(ctx context.Context) (domain.HostInfo, error) {
	info := domain.HostInfo{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		LogicalCPUs: runtime.NumCPU(),
		CPUFeatures: Features(),
	}

	// Model and memory are best effort; containers often hide them.
	if stats, err := cpu.InfoWithContext(ctx); err == nil && len(stats) > 0 {
		info.CPUModel = stats[0].ModelName
	} else if err != nil {
		log.WithError(err).Warn("cpu info unavailable")
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.LogicalCPUs = n
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return info, fmt.Errorf("read memory stats: %w", err)
	}
	info.TotalMemory = vm.Total
	return info, nil
}

// Features lists the SIMD extensions relevant to the integer kernels.
func Features() []string {
	features := []string{}
	add := func(ok bool, name string) {
		if ok {
			features = append(features, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add(syscpu.X86.HasSSE41, "sse4.1")
		add(syscpu.X86.HasSSE42, "sse4.2")
		add(syscpu.X86.HasAVX, "avx")
		add(syscpu.X86.HasAVX2, "avx2")
		add(syscpu.X86.HasFMA, "fma")
		add(syscpu.X86.HasAVX512F, "avx512f")
		add(syscpu.X86.HasAVX512VNNI, "avx512vnni")
	case "arm64":
		add(syscpu.ARM64.HasASIMD, "asimd")
		add(syscpu.ARM64.HasFPHP, "fphp")
		add(syscpu.ARM64.HasASIMDDP, "asimddp")
	}
	return features
}
