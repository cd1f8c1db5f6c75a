package media

import (
	"fmt"
	"math"
)

// SecondsPerHour converts requested hours to the trim length in seconds.
const SecondsPerHour = 3600

// Plan describes how many times the source has to be repeated to cover the
// target duration and where the result is trimmed.
type Plan struct {
	// SourceDuration is the probed length of the source in seconds.
	SourceDuration float64
	// TargetDuration is the requested output length in seconds.
	TargetDuration float64
	// RepeatCount is the number of manifest entries. Always >= 1.
	RepeatCount int
	// TrimSeconds is the exact output duration passed to ffmpeg.
	TrimSeconds float64
}

// Covered returns the total duration of repeated material in the manifest.
func (p Plan) Covered() float64 {
	return float64(p.RepeatCount) * p.SourceDuration
}

// Planner computes repetition plans. The zero value has no repeat ceiling.
type Planner struct {
	// MaxRepeatCount rejects plans needing more repetitions. Zero means unlimited.
	MaxRepeatCount int
}

// PlanRepetitions computes a plan without any repeat ceiling.
func PlanRepetitions(sourceDuration, targetHours float64) (Plan, error) {
	return Planner{}.Plan(sourceDuration, targetHours)
}

// Plan computes the smallest repeat count whose total length covers
// targetHours. Non-positive inputs are rejected, never clamped.
func (p Planner) Plan(sourceDuration, targetHours float64) (Plan, error) {
	if !positive(sourceDuration) {
		return Plan{}, &Error{
			Kind:   KindInput,
			Op:     "plan",
			Detail: fmt.Sprintf("source duration %v", sourceDuration),
			Err:    ErrInvalidDuration,
		}
	}
	if !positive(targetHours) {
		return Plan{}, &Error{
			Kind:   KindInput,
			Op:     "plan",
			Detail: fmt.Sprintf("target hours %v", targetHours),
			Err:    ErrInvalidDuration,
		}
	}

	target := targetHours * SecondsPerHour
	count := repeatCount(sourceDuration, target)

	if p.MaxRepeatCount > 0 && count > float64(p.MaxRepeatCount) {
		return Plan{}, &Error{
			Kind:   KindInput,
			Op:     "plan",
			Detail: fmt.Sprintf("need %.0f repeats, limit %d", count, p.MaxRepeatCount),
			Err:    ErrRepeatLimit,
		}
	}
	// float64(math.MaxInt) is 2^63, which no longer fits in an int.
	if count >= float64(math.MaxInt) {
		return Plan{}, &Error{
			Kind:   KindInput,
			Op:     "plan",
			Detail: fmt.Sprintf("need %.0f repeats, more than an int can count", count),
			Err:    ErrRepeatLimit,
		}
	}

	return Plan{
		SourceDuration: sourceDuration,
		TargetDuration: target,
		RepeatCount:    int(count),
		TrimSeconds:    target,
	}, nil
}

// repeatCount is ceil(target/source), nudged so that count*source >= target
// and (count-1)*source < target both hold in float64 arithmetic.
func repeatCount(source, target float64) float64 {
	count := math.Ceil(target / source)
	if count < 1 {
		count = 1
	}
	if count > 1<<53 {
		return count
	}
	for count*source < target {
		count++
	}
	for count > 1 && (count-1)*source >= target {
		count--
	}
	return count
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
