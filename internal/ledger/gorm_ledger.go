package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WalletAccount is one member's kWh trading balance.
type WalletAccount struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	MemberID  uuid.UUID       `gorm:"type:uuid;uniqueIndex;not null"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalletEntry is one posted balance change. The (match_id, side) unique
// index is what makes settlement idempotent under redelivery.
type WalletEntry struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	MatchID       uuid.UUID       `gorm:"type:uuid;uniqueIndex:idx_wallet_entries_match_side;not null"`
	Side          string          `gorm:"uniqueIndex:idx_wallet_entries_match_side;not null"`
	MemberID      uuid.UUID       `gorm:"type:uuid;index;not null"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Fee           decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	CreatedAt     time.Time
}

// GormLedger implements Client on a GORM database.
type GormLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormLedger creates the ledger and migrates its tables.
func NewGormLedger(db *gorm.DB, logger *zap.Logger) (*GormLedger, error) {
	if err := db.AutoMigrate(&WalletAccount{}, &WalletEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger tables: %w", err)
	}
	return &GormLedger{db: db, logger: logger.Named("ledger")}, nil
}

// PostMatchSettlement posts both entries for a match in one database
// transaction. A match that already has entries is left untouched.
// Accounts are created on first use; balances may go negative, the
// cooperative reconciles them at billing time.
func (l *GormLedger) PostMatchSettlement(ctx context.Context, matchID uuid.UUID, buyer, seller Posting) error {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&WalletEntry{}).Where("match_id = ?", matchID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check existing entries: %w", err)
		}
		if count > 0 {
			// Already posted; idempotent no-op.
			return nil
		}
		for _, p := range []Posting{buyer, seller} {
			account, err := l.lockAccount(tx, p.MemberID)
			if err != nil {
				return err
			}
			before := account.Balance
			after := before.Add(p.Net())
			account.Balance = after
			account.UpdatedAt = time.Now()
			if err := tx.Save(account).Error; err != nil {
				return fmt.Errorf("failed to save account: %w", err)
			}
			entry := &WalletEntry{
				ID:            uuid.New(),
				MatchID:       matchID,
				Side:          p.Side,
				MemberID:      p.MemberID,
				Amount:        p.Amount,
				Fee:           p.Fee,
				BalanceBefore: before,
				BalanceAfter:  after,
				CreatedAt:     time.Now(),
			}
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("failed to create ledger entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A concurrent retry won the race; the entries exist.
			return nil
		}
		l.logger.Error("settlement posting failed", zap.Error(err),
			zap.String("match_id", matchID.String()))
		return Retryable(err)
	}
	return nil
}

func (l *GormLedger) lockAccount(tx *gorm.DB, memberID uuid.UUID) (*WalletAccount, error) {
	var account WalletAccount
	err := tx.Where("member_id = ?", memberID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account = WalletAccount{
			ID:        uuid.New(),
			MemberID:  memberID,
			Balance:   decimal.Zero,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := tx.Create(&account).Error; err != nil {
			return nil, fmt.Errorf("failed to create account: %w", err)
		}
		return &account, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}
	return &account, nil
}

// Balance returns the member's current balance, zero for unknown members.
func (l *GormLedger) Balance(ctx context.Context, memberID uuid.UUID) (decimal.Decimal, error) {
	var account WalletAccount
	err := l.db.WithContext(ctx).Where("member_id = ?", memberID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to find account: %w", err)
	}
	return account.Balance, nil
}
