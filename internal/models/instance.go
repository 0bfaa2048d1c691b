package models

import "time"

const (
	RoleLeader   = "leader"
	RoleFollower = "follower"

	LeaseAcquired = "acquired"
	LeaseRenewed  = "renewed"
	LeaseDemoted  = "demoted"
	LeaseReleased = "released"
)

// InstanceMetadata 实例心跳
type InstanceMetadata struct {
	InstanceID string    `gorm:"primaryKey;type:varchar(64)" json:"instance_id"`
	Role       string    `gorm:"type:varchar(16);not null" json:"role"`
	Hostname   string    `gorm:"type:varchar(128)" json:"hostname"`
	StartedAt  time.Time `gorm:"not null" json:"started_at"`
	LastSeenAt time.Time `gorm:"not null;index" json:"last_seen_at"`
}

func (InstanceMetadata) TableName() string {
	return "instance_metadata"
}

// LeadershipHistory 租约变更审计
type LeadershipHistory struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Resource   string    `gorm:"type:varchar(64);not null;index:idx_resource_created" json:"resource"`
	InstanceID string    `gorm:"type:varchar(64);not null" json:"instance_id"`
	Event      string    `gorm:"type:varchar(16);not null;comment:acquired/demoted/released" json:"event"`
	Reason     string    `gorm:"type:varchar(255)" json:"reason"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_resource_created" json:"created_at"`
}

func (LeadershipHistory) TableName() string {
	return "leadership_history"
}

// All 所有需要迁移的模型
func All() []any {
	return []any{
		&Position{},
		&PyramidState{},
		&PortfolioState{},
		&SignalLog{},
		&InstanceMetadata{},
		&LeadershipHistory{},
	}
}
