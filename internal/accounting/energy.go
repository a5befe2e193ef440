package accounting

// EnergyProfile parameterizes the inference-footprint estimate (§GLOSSARY
// "Inference footprint") for one model/GPU combination. Every constant here
// is configuration, not a hard-coded assumption about one deployment, per
// the Open Question resolution in DESIGN.md: the source this spec was
// distilled from hard-coded these against a single GPU profile, which this
// implementation treats as a documented default instead.
type EnergyProfile struct {
	// TensorParallelDegree is the number of GPUs the model is sharded
	// across; energy scales roughly linearly with it at fixed throughput.
	TensorParallelDegree int

	// KVCachePerUserMB is the per-concurrent-user KV-cache memory footprint,
	// used only to document the assumed batch size behind the throughput
	// figures below; it does not enter the wattage formula directly.
	KVCachePerUserMB float64

	// PrefillTokensPerSecond and DecodeTokensPerSecond are the assumed
	// per-GPU throughput figures for the prompt (prefill) and generation
	// (decode) phases.
	PrefillTokensPerSecond float64
	DecodeTokensPerSecond  float64

	// WattsPerGPU is the assumed sustained power draw of one GPU under load.
	WattsPerGPU float64
}

// DefaultEnergyProfile documents a mid-range single-node GPU deployment. It
// is intentionally approximate, not billing-grade. server.New passes it to
// accounting.New unchanged; the YAML configuration has no energy-profile
// settings, so another profile takes a different EnergyProfile value passed
// to accounting.New.
var DefaultEnergyProfile = EnergyProfile{
	TensorParallelDegree:   1,
	KVCachePerUserMB:       256,
	PrefillTokensPerSecond: 4000,
	DecodeTokensPerSecond:  80,
	WattsPerGPU:            400,
}

// EstimateEnergyWh computes a wall-power energy estimate, in watt-hours, for
// one request: prefill time plus decode time, each drawing WattsPerGPU
// across TensorParallelDegree GPUs.
func EstimateEnergyWh(profile EnergyProfile, inputTokens, outputTokens int) float64 {
	if profile.PrefillTokensPerSecond <= 0 || profile.DecodeTokensPerSecond <= 0 {
		return 0
	}

	prefillSeconds := float64(inputTokens) / profile.PrefillTokensPerSecond
	decodeSeconds := float64(outputTokens) / profile.DecodeTokensPerSecond

	totalSeconds := prefillSeconds + decodeSeconds
	totalWatts := profile.WattsPerGPU * float64(maxInt(profile.TensorParallelDegree, 1))

	return totalWatts * (totalSeconds / 3600.0)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
