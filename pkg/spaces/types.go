package spaces

import (
	"math"
	"time"

	"github.com/platinummonkey/gallery/pkg/quota"
	"github.com/platinummonkey/gallery/pkg/rbac"
)

// Type is the space type
type Type = rbac.SpaceType

const (
	TypePrivate = rbac.SpacePrivate
	TypeTeam    = rbac.SpaceTeam
)

// Level is the space tier, which determines default limits
type Level string

const (
	LevelCommon       Level = "common"
	LevelProfessional Level = "professional"
	LevelFlagship     Level = "flagship"
)

const (
	// DefaultName is used when a space is created without a name
	DefaultName = "Default space"
	// MaxNameLength is the maximum space name length in runes
	MaxNameLength = 30

	mebibyte = int64(1024 * 1024)
)

// Limits are the quota ceilings of a space
type Limits struct {
	MaxCount int64 `json:"max_count"`
	MaxBytes int64 `json:"max_bytes"`
}

var levelLimits = map[Level]Limits{
	LevelCommon:       {MaxCount: 100, MaxBytes: 100 * mebibyte},
	LevelProfessional: {MaxCount: 1000, MaxBytes: 1000 * mebibyte},
	LevelFlagship:     {MaxCount: 10000, MaxBytes: 10000 * mebibyte},
}

// LevelInfo describes a tier and the limits a new space of it receives
type LevelInfo struct {
	Level Level  `json:"level"`
	Name  string `json:"name"`
	Limits
}

// Levels lists every tier from smallest to largest
func Levels() []LevelInfo {
	return []LevelInfo{
		{Level: LevelCommon, Name: "Common", Limits: levelLimits[LevelCommon]},
		{Level: LevelProfessional, Name: "Professional", Limits: levelLimits[LevelProfessional]},
		{Level: LevelFlagship, Name: "Flagship", Limits: levelLimits[LevelFlagship]},
	}
}

// UsageReport is a space's counters with fill ratios as percentages
// rounded to two decimals. A ratio is 0 when its ceiling is 0.
type UsageReport struct {
	SpaceID int64 `json:"space_id"`
	quota.Usage
	CountRatio float64 `json:"count_usage_ratio"`
	BytesRatio float64 `json:"size_usage_ratio"`
}

func newUsageReport(spaceID int64, u *quota.Usage) *UsageReport {
	return &UsageReport{
		SpaceID:    spaceID,
		Usage:      *u,
		CountRatio: usagePercent(u.UsedCount, u.MaxCount),
		BytesRatio: usagePercent(u.UsedBytes, u.MaxBytes),
	}
}

func usagePercent(used, max int64) float64 {
	if max <= 0 {
		return 0
	}
	return math.Round(float64(used)*10000/float64(max)) / 100
}

// Valid reports whether l is a known level
func (l Level) Valid() bool {
	_, ok := levelLimits[l]
	return ok
}

// Limits returns the default limits of the level
func (l Level) Limits() Limits {
	return levelLimits[l]
}

// Space is a quota-bearing container of pictures
type Space struct {
	ID           int64     `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	OwnerIsAdmin bool      `json:"-"`
	Name         string    `json:"name"`
	Type         Type      `json:"type"`
	Level        Level     `json:"level"`
	MaxCount     int64     `json:"max_count"`
	MaxBytes     int64     `json:"max_bytes"`
	UsedCount    int64     `json:"used_count"`
	UsedBytes    int64     `json:"used_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Scope returns the authorization view of the space. A nil space is the
// public library.
func (s *Space) Scope() *rbac.Scope {
	if s == nil {
		return nil
	}
	return &rbac.Scope{SpaceID: s.ID, OwnerID: s.OwnerID, Type: s.Type}
}

// View is a space with the caller's permissions in it
type View struct {
	*Space
	Permissions []string `json:"permissions"`
}

// Member is a user's role in a team space
type Member struct {
	SpaceID   int64     `json:"space_id"`
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest holds the optional fields of a new space
type CreateRequest struct {
	Name  string
	Type  Type
	Level Level
}

// UpdateRequest holds the fields to change; nil means unchanged
type UpdateRequest struct {
	Name     *string
	Level    *Level
	MaxCount *int64
	MaxBytes *int64
}
