package observability

import (
	"os"
	"strconv"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Standard OTel sampler variables; read here rather than in config.Config since only tracing uses them.
const (
	envTracesSampler    = "OTEL_TRACES_SAMPLER"
	envTracesSamplerArg = "OTEL_TRACES_SAMPLER_ARG"
)

// samplers maps OTEL_TRACES_SAMPLER values to constructors taking the parsed ratio.
var samplers = map[string]func(ratio float64) sdktrace.Sampler{
	"always_on":  func(float64) sdktrace.Sampler { return sdktrace.AlwaysSample() },
	"always_off": func(float64) sdktrace.Sampler { return sdktrace.NeverSample() },
	"traceidratio": func(r float64) sdktrace.Sampler {
		return sdktrace.TraceIDRatioBased(r)
	},
	"parentbased_traceidratio": func(r float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(r))
	},
	"parentbased_always_on": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	},
	"parentbased_always_off": func(float64) sdktrace.Sampler {
		return sdktrace.ParentBased(sdktrace.NeverSample())
	},
}

// newSampler builds the sampler named by OTEL_TRACES_SAMPLER. Unknown or empty names fall back to
// parentbased_always_on, the SDK default.
func newSampler() sdktrace.Sampler {
	build, ok := samplers[os.Getenv(envTracesSampler)]
	if !ok {
		build = samplers["parentbased_always_on"]
	}

	return build(samplerRatio(os.Getenv(envTracesSamplerArg)))
}

// samplerRatio parses a ratio in [0, 1]; anything else samples everything.
func samplerRatio(s string) float64 {
	r, err := strconv.ParseFloat(s, 64)
	if err != nil || r < 0 || r > 1 {
		return 1
	}

	return r
}
