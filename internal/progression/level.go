package progression

import "math"

const experiencePerLevelUnit = 100

// LevelFromExperience returns floor(sqrt(experience/100)) + 1. It is 1 for any
// experience below 100, including zero and negative inputs.
func LevelFromExperience(experience int64) int {
	if experience <= 0 {
		return 1
	}
	return int(integerSqrt(experience/experiencePerLevelUnit)) + 1
}

// ExperienceRequiredForLevel returns level^2 * 100, the experience at which
// the user leaves the given level. It saturates at math.MaxInt64.
func ExperienceRequiredForLevel(level int) int64 {
	if level <= 0 {
		return 0
	}
	l := int64(level)
	if l > integerSqrt(math.MaxInt64/experiencePerLevelUnit) {
		return math.MaxInt64
	}
	return l * l * experiencePerLevelUnit
}

// ExperienceToNextLevel returns the width of the given level in experience points.
func ExperienceToNextLevel(level int) int64 {
	return ExperienceRequiredForLevel(level) - ExperienceRequiredForLevel(level-1)
}

// ProgressToNextLevel returns how far experience is through the given level,
// as a percentage clamped to [0, 100].
func ProgressToNextLevel(experience int64, level int) float64 {
	floor := ExperienceRequiredForLevel(level - 1)
	width := ExperienceToNextLevel(level)
	if width <= 0 {
		return 0
	}
	percent := float64(experience-floor) / float64(width) * 100
	return math.Min(math.Max(percent, 0), 100)
}

// integerSqrt returns floor(sqrt(n)) without float rounding at perfect squares.
func integerSqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	root := int64(math.Sqrt(float64(n)))
	for root*root > n {
		root--
	}
	for (root+1)*(root+1) <= n {
		root++
	}
	return root
}
