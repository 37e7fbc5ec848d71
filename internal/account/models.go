package account

import "time"

type Plan string

const (
	PlanFree  Plan = "FREE"
	PlanPaid  Plan = "PAID"
	PlanAdmin Plan = "ADMIN"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusDeleted   Status = "DELETED"
)

// LoginType is the SSO provider an account signed up with.
type LoginType string

const (
	LoginGoogle LoginType = "GOOGLE"
	LoginKakao  LoginType = "KAKAO"
	LoginNaver  LoginType = "NAVER"
)

type Account struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Nickname  string    `gorm:"type:varchar(64)" json:"nickname"`
	LoginType LoginType `gorm:"type:varchar(16);not null" json:"login_type"`
	Plan      Plan      `gorm:"type:varchar(16);not null;default:FREE" json:"plan"`
	Role      Role      `gorm:"type:varchar(16);not null;default:USER" json:"role"`
	Status    Status    `gorm:"type:varchar(16);not null;default:ACTIVE" json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) IsActive() bool { return a.Status == StatusActive }

func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin || a.Plan == PlanAdmin }
