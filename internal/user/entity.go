package user

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Tier is the service level of a tasker. Tasks restricted to "pro" are
// visible only to pro taskers; everyone sees "all" tasks.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

type RewardsLevel string

const (
	LevelBronze   RewardsLevel = "bronze"
	LevelSilver   RewardsLevel = "silver"
	LevelGold     RewardsLevel = "gold"
	LevelPlatinum RewardsLevel = "platinum"
)

const (
	PerkReducedCommission = "reduced_commission"
	PerkPriorityListing   = "priority_listing"
	PerkTopBadge          = "top_badge"
)

// Perk is a time-limited benefit granted when a rewards level is reached.
// For reduced_commission, Value is the percentage subtracted from the
// platform fee.
type Perk struct {
	Type      string    `yaml:"type" json:"type"`
	Value     int       `yaml:"value" json:"value"`
	ExpiresAt time.Time `yaml:"expires_at" json:"expiresAt"`
}

// Wallet balances are in paisa. Balance is withdrawable; Pending is reserved
// for future settlement flows and is never touched by the payout path.
type Wallet struct {
	Balance int64 `yaml:"balance" json:"balance"`
	Pending int64 `yaml:"pending" json:"pending"`
}

type User struct {
	ID            string       `yaml:"id" json:"id"`
	Name          string       `yaml:"name" json:"name"`
	Role          Role         `yaml:"role" json:"role"`
	Tier          Tier         `yaml:"tier" json:"tier"`
	Skills        []string     `yaml:"skills,omitempty" json:"skills,omitempty"`
	Wallet        Wallet       `yaml:"wallet" json:"wallet"`
	LoyaltyPoints int64        `yaml:"loyalty_points" json:"loyaltyPoints"`
	TaskPoints    int64        `yaml:"task_points" json:"taskPoints"`
	RewardsLevel  RewardsLevel `yaml:"rewards_level" json:"rewardsLevel"`
	Perks         []Perk       `yaml:"perks,omitempty" json:"perks,omitempty"`
	RatingAvg     float64      `yaml:"rating_avg" json:"ratingAvg"`
	RatingCount   int          `yaml:"rating_count" json:"ratingCount"`
	CreatedAt     time.Time    `yaml:"created_at" json:"createdAt"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ActivePerk returns the first unexpired perk of the given type.
func (u *User) ActivePerk(perkType string, now time.Time) (Perk, bool) {
	for _, p := range u.Perks {
		if p.Type == perkType && p.ExpiresAt.After(now) {
			return p, true
		}
	}
	return Perk{}, false
}
