package leveling

// RequiredXP is the total XP needed to reach level.
func RequiredXP(level int) int {
	return 50*level*level - 50*level
}

// LevelForXP returns the highest level whose threshold is at most xp. Levels 0
// and 1 share the threshold 0; a member without XP is reported as level 0.
func LevelForXP(xp int) int {
	if xp <= 0 {
		return 0
	}
	level := 0
	for RequiredXP(level+1) <= xp {
		level++
	}
	return level
}

// Progress is the percentage of the way from level to level+1. Values above
// 100 only come from inconsistent inputs and are reported as 0.
func Progress(xp, level int) float64 {
	floor := RequiredXP(level)
	span := RequiredXP(level+1) - floor
	if span <= 0 {
		return 0
	}
	pct := float64(xp-floor) / float64(span) * 100
	if pct > 100 {
		return 0
	}
	return pct
}

// XPToNext is how much XP is missing for the next level.
func XPToNext(xp, level int) int {
	missing := RequiredXP(level+1) - xp
	if missing < 0 {
		return 0
	}
	return missing
}
