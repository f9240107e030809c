package user

import "time"

// Task point thresholds for each rewards level, in paisa-equivalent points.
const (
	silverThreshold   = 20000
	goldThreshold     = 50000
	platinumThreshold = 100000
)

const perkDuration = 90 * 24 * time.Hour

// LoyaltyPoints earned by each party when a task is paid out.
func LoyaltyPointsForPrice(price int64) int64 {
	return int64(float64(price)*0.10 + 0.5)
}

func CalculateRewardsLevel(taskPoints int64) RewardsLevel {
	switch {
	case taskPoints >= platinumThreshold:
		return LevelPlatinum
	case taskPoints >= goldThreshold:
		return LevelGold
	case taskPoints >= silverThreshold:
		return LevelSilver
	default:
		return LevelBronze
	}
}

// PerksForLevel returns the perk set granted on reaching a level. Bronze
// grants nothing.
func PerksForLevel(level RewardsLevel, now time.Time) []Perk {
	expiresAt := now.Add(perkDuration)
	switch level {
	case LevelPlatinum:
		return []Perk{
			{Type: PerkReducedCommission, Value: 5, ExpiresAt: expiresAt},
			{Type: PerkPriorityListing, Value: 1, ExpiresAt: expiresAt},
			{Type: PerkTopBadge, Value: 1, ExpiresAt: expiresAt},
		}
	case LevelGold:
		return []Perk{
			{Type: PerkReducedCommission, Value: 3, ExpiresAt: expiresAt},
			{Type: PerkPriorityListing, Value: 1, ExpiresAt: expiresAt},
		}
	case LevelSilver:
		return []Perk{
			{Type: PerkReducedCommission, Value: 2, ExpiresAt: expiresAt},
		}
	default:
		return nil
	}
}
