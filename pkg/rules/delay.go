package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var delayUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
}

var (
	delayLiteralPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)(ms|s|m|h)?$`)
	delayJitterPattern  = regexp.MustCompile(`^(\d+(?:\.\d+)?)(?:±|\+-)(\d+(?:\.\d+)?)(ms|s|m|h)?$`)
	delayPercentilePat  = regexp.MustCompile(`^p\d{1,2}=(\d+(?:\.\d+)?)(ms|s|m|h)?$`)
)

// ParseDelay resolves a delay spec to a duration. Bare integers are
// milliseconds; <n><unit> literals, <mean>±<jitter><unit> uniform
// distributions, and p95=<n><unit> percentile forms are accepted. The
// jitter form samples mean + U[-jitter, +jitter] through unif; a nil
// unif takes the mean, which load-time validation uses.
func ParseDelay(spec string, unif func() float64) (time.Duration, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, fmt.Errorf("rules: empty delay spec")
	}

	if m := delayJitterPattern.FindStringSubmatch(spec); m != nil {
		mean, _ := strconv.ParseFloat(m[1], 64)
		jitter, _ := strconv.ParseFloat(m[2], 64)
		unit := unitOf(m[3])
		sampled := mean
		if unif != nil {
			sampled = mean + (unif()*2-1)*jitter
		}
		if sampled < 0 {
			sampled = 0
		}
		return time.Duration(sampled * float64(unit)), nil
	}

	if m := delayPercentilePat.FindStringSubmatch(spec); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return time.Duration(n * float64(unitOf(m[2]))), nil
	}

	if m := delayLiteralPattern.FindStringSubmatch(spec); m != nil {
		n, _ := strconv.ParseFloat(m[1], 64)
		return time.Duration(n * float64(unitOf(m[2]))), nil
	}

	return 0, fmt.Errorf("rules: bad delay spec %q", spec)
}

func unitOf(suffix string) time.Duration {
	if unit, ok := delayUnits[suffix]; ok {
		return unit
	}
	return time.Millisecond
}
