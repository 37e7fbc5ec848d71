package account

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("account not found")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, a *Account) error {
	if a.Plan == "" {
		a.Plan = PlanFree
	}
	if a.Role == "" {
		a.Role = RoleUser
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *Repo) GetByID(ctx context.Context, id uint64) (*Account, error) {
	var a Account
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// PlanOf returns the account's plan. Unknown accounts are treated as FREE.
func (r *Repo) PlanOf(ctx context.Context, id uint64) (Plan, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return PlanFree, nil
		}
		return "", err
	}
	if a.Role == RoleAdmin {
		return PlanAdmin, nil
	}
	return a.Plan, nil
}
