package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/enercoop/gridmatch/internal/market"
)

const orderCacheTTL = 30 * time.Second

// OrderRecord is the database row for an order.
type OrderRecord struct {
	ID                     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ExternalReference      *string   `gorm:"uniqueIndex"`
	MemberID               uuid.UUID `gorm:"type:uuid;index;not null"`
	EnergySourceID         uuid.UUID `gorm:"type:uuid;index:idx_orders_source_status;not null"`
	Side                   string    `gorm:"not null"`
	Quantity               decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	FilledQuantity         decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	LimitPrice             decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Status                 string          `gorm:"index:idx_orders_source_status;not null"`
	RejectionReason        string
	PartialFillsAllowed    bool
	FillOrKill             bool
	MinimumOrderSize       decimal.Decimal `gorm:"type:numeric(20,8)"`
	MaximumOrderSize       decimal.Decimal `gorm:"type:numeric(20,8)"`
	Iceberg                bool
	IcebergVisibleQuantity decimal.Decimal `gorm:"type:numeric(20,8)"`
	StopLossPrice          decimal.Decimal `gorm:"type:numeric(20,8)"`
	TakeProfitPrice        decimal.Decimal `gorm:"type:numeric(20,8)"`
	CounterOffersAllowed   bool
	LinkedOrderIDs         string `gorm:"type:text"`
	DeliveryDate           time.Time
	DeliveryType           string
	Sequence               uint64 `gorm:"index"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
	ExpiresAt              *time.Time
	MatchedAt              *time.Time
	FilledAt               *time.Time
}

func (OrderRecord) TableName() string { return "trade_orders" }

// MatchRecord is the database row for a match, including its settlement
// progress. Match fields themselves are immutable after creation; only the
// settlement columns change.
type MatchRecord struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey"`
	EnergySourceID    uuid.UUID       `gorm:"type:uuid;index;not null"`
	BuyOrderID        uuid.UUID       `gorm:"type:uuid;index;not null"`
	SellOrderID       uuid.UUID       `gorm:"type:uuid;index;not null"`
	BuyerID           uuid.UUID       `gorm:"type:uuid;not null"`
	SellerID          uuid.UUID       `gorm:"type:uuid;not null"`
	Quantity          decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Price             decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	MatchedAt         time.Time       `gorm:"index"`
	Settled           bool            `gorm:"index;not null;default:false"`
	SettledAt         *time.Time
	FailureReason     string
	SettlementRetries int
}

func (MatchRecord) TableName() string { return "trade_matches" }

// GormRepository implements market.Repository on GORM with an optional Redis
// read cache for order lookups.
type GormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	cache  *redis.Client
}

// NewGormRepository creates the repository and migrates its tables. cache
// may be nil; order reads then always hit the database.
func NewGormRepository(db *gorm.DB, logger *zap.Logger, cache *redis.Client) (*GormRepository, error) {
	if err := db.AutoMigrate(&OrderRecord{}, &MatchRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate order tables: %w", err)
	}
	return &GormRepository{db: db, logger: logger.Named("repository"), cache: cache}, nil
}

func toOrderRecord(o *market.Order) (*OrderRecord, error) {
	rec := &OrderRecord{
		ID:                     o.ID,
		MemberID:               o.MemberID,
		EnergySourceID:         o.EnergySourceID,
		Side:                   o.Side,
		Quantity:               o.Quantity,
		FilledQuantity:         o.FilledQuantity,
		LimitPrice:             o.LimitPrice,
		Status:                 o.Status,
		RejectionReason:        o.RejectionReason,
		PartialFillsAllowed:    o.PartialFillsAllowed,
		FillOrKill:             o.FillOrKill,
		MinimumOrderSize:       o.MinimumOrderSize,
		MaximumOrderSize:       o.MaximumOrderSize,
		Iceberg:                o.Iceberg,
		IcebergVisibleQuantity: o.IcebergVisibleQuantity,
		StopLossPrice:          o.StopLossPrice,
		TakeProfitPrice:        o.TakeProfitPrice,
		CounterOffersAllowed:   o.CounterOffersAllowed,
		DeliveryDate:           o.DeliveryDate,
		DeliveryType:           o.DeliveryType,
		Sequence:               o.Sequence,
		CreatedAt:              o.CreatedAt,
		UpdatedAt:              o.UpdatedAt,
		ExpiresAt:              o.ExpiresAt,
		MatchedAt:              o.MatchedAt,
		FilledAt:               o.FilledAt,
	}
	if o.ExternalReference != "" {
		ref := o.ExternalReference
		rec.ExternalReference = &ref
	}
	if len(o.LinkedOrderIDs) > 0 {
		raw, err := json.Marshal(o.LinkedOrderIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to encode linked order ids: %w", err)
		}
		rec.LinkedOrderIDs = string(raw)
	}
	return rec, nil
}

func fromOrderRecord(rec *OrderRecord) (*market.Order, error) {
	o := &market.Order{
		ID:                     rec.ID,
		MemberID:               rec.MemberID,
		EnergySourceID:         rec.EnergySourceID,
		Side:                   rec.Side,
		Quantity:               rec.Quantity,
		FilledQuantity:         rec.FilledQuantity,
		LimitPrice:             rec.LimitPrice,
		Status:                 rec.Status,
		RejectionReason:        rec.RejectionReason,
		PartialFillsAllowed:    rec.PartialFillsAllowed,
		FillOrKill:             rec.FillOrKill,
		MinimumOrderSize:       rec.MinimumOrderSize,
		MaximumOrderSize:       rec.MaximumOrderSize,
		Iceberg:                rec.Iceberg,
		IcebergVisibleQuantity: rec.IcebergVisibleQuantity,
		StopLossPrice:          rec.StopLossPrice,
		TakeProfitPrice:        rec.TakeProfitPrice,
		CounterOffersAllowed:   rec.CounterOffersAllowed,
		DeliveryDate:           rec.DeliveryDate,
		DeliveryType:           rec.DeliveryType,
		Sequence:               rec.Sequence,
		CreatedAt:              rec.CreatedAt,
		UpdatedAt:              rec.UpdatedAt,
		ExpiresAt:              rec.ExpiresAt,
		MatchedAt:              rec.MatchedAt,
		FilledAt:               rec.FilledAt,
	}
	if rec.ExternalReference != nil {
		o.ExternalReference = *rec.ExternalReference
	}
	if rec.LinkedOrderIDs != "" {
		if err := json.Unmarshal([]byte(rec.LinkedOrderIDs), &o.LinkedOrderIDs); err != nil {
			return nil, fmt.Errorf("failed to decode linked order ids: %w", err)
		}
	}
	return o, nil
}

func toMatchRecord(m *market.Match) *MatchRecord {
	return &MatchRecord{
		ID:             m.ID,
		EnergySourceID: m.EnergySourceID,
		BuyOrderID:     m.BuyOrderID,
		SellOrderID:    m.SellOrderID,
		BuyerID:        m.BuyerID,
		SellerID:       m.SellerID,
		Quantity:       m.Quantity,
		Price:          m.Price,
		MatchedAt:      m.MatchedAt,
	}
}

func fromMatchRecord(rec *MatchRecord) *market.Match {
	return &market.Match{
		ID:             rec.ID,
		EnergySourceID: rec.EnergySourceID,
		BuyOrderID:     rec.BuyOrderID,
		SellOrderID:    rec.SellOrderID,
		BuyerID:        rec.BuyerID,
		SellerID:       rec.SellerID,
		Quantity:       rec.Quantity,
		Price:          rec.Price,
		MatchedAt:      rec.MatchedAt,
	}
}

func (r *GormRepository) orderCacheKey(id uuid.UUID) string {
	return "gridmatch:order:" + id.String()
}

func (r *GormRepository) invalidateOrder(ctx context.Context, id uuid.UUID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, r.orderCacheKey(id)).Err(); err != nil {
		r.logger.Debug("order cache invalidation failed", zap.Error(err))
	}
}

func (r *GormRepository) CreateOrder(ctx context.Context, order *market.Order) error {
	rec, err := toOrderRecord(order)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return market.ErrDuplicateReference
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	r.invalidateOrder(ctx, order.ID)
	return nil
}

func (r *GormRepository) UpdateOrder(ctx context.Context, order *market.Order) error {
	rec, err := toOrderRecord(order)
	if err != nil {
		return err
	}
	// Select("*") forces zero-valued columns to be written too; trigger
	// conversion clears stop_loss_price/take_profit_price to zero and a
	// struct update would silently skip them.
	res := r.db.WithContext(ctx).Model(&OrderRecord{}).Where("id = ?", order.ID).Select("*").Updates(rec)
	if res.Error != nil {
		return fmt.Errorf("failed to update order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return market.ErrOrderNotFound
	}
	r.invalidateOrder(ctx, order.ID)
	return nil
}

func (r *GormRepository) GetOrder(ctx context.Context, id uuid.UUID) (*market.Order, error) {
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, r.orderCacheKey(id)).Bytes(); err == nil {
			var o market.Order
			if err := json.Unmarshal(raw, &o); err == nil {
				return &o, nil
			}
		}
	}
	var rec OrderRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, market.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	order, err := fromOrderRecord(&rec)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		if raw, err := json.Marshal(order); err == nil {
			if err := r.cache.Set(ctx, r.orderCacheKey(id), raw, orderCacheTTL).Err(); err != nil {
				r.logger.Debug("order cache write failed", zap.Error(err))
			}
		}
	}
	return order, nil
}

func (r *GormRepository) GetOrderByReference(ctx context.Context, ref string) (*market.Order, error) {
	var rec OrderRecord
	err := r.db.WithContext(ctx).Where("external_reference = ?", ref).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, market.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find order by reference: %w", err)
	}
	return fromOrderRecord(&rec)
}

func (r *GormRepository) ActiveOrdersBySource(ctx context.Context, sourceID uuid.UUID) ([]*market.Order, error) {
	var recs []OrderRecord
	err := r.db.WithContext(ctx).
		Where("energy_source_id = ? AND status IN ?", sourceID,
			[]string{market.OrderStatusPending, market.OrderStatusPartial}).
		Order("side ASC, CASE WHEN side = 'BUY' THEN -limit_price ELSE limit_price END ASC, sequence ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active orders: %w", err)
	}
	out := make([]*market.Order, 0, len(recs))
	for i := range recs {
		o, err := fromOrderRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (r *GormRepository) CreateMatch(ctx context.Context, match *market.Match) error {
	if err := r.db.WithContext(ctx).Create(toMatchRecord(match)).Error; err != nil {
		return fmt.Errorf("failed to create match: %w", err)
	}
	return nil
}

func (r *GormRepository) GetMatch(ctx context.Context, id uuid.UUID) (*market.Match, error) {
	var rec MatchRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, market.ErrMatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find match: %w", err)
	}
	return fromMatchRecord(&rec), nil
}

func (r *GormRepository) MatchesForOrder(ctx context.Context, orderID uuid.UUID) ([]*market.Match, error) {
	var recs []MatchRecord
	err := r.db.WithContext(ctx).
		Where("buy_order_id = ? OR sell_order_id = ?", orderID, orderID).
		Order("matched_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load matches for order: %w", err)
	}
	out := make([]*market.Match, 0, len(recs))
	for i := range recs {
		out = append(out, fromMatchRecord(&recs[i]))
	}
	return out, nil
}

func (r *GormRepository) MarkMatchSettled(ctx context.Context, matchID uuid.UUID) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&MatchRecord{}).
		Where("id = ?", matchID).
		Updates(map[string]interface{}{"settled": true, "settled_at": now, "failure_reason": ""})
	if res.Error != nil {
		return fmt.Errorf("failed to mark match settled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return market.ErrMatchNotFound
	}
	return nil
}

func (r *GormRepository) MarkMatchSettlementFailed(ctx context.Context, matchID uuid.UUID, reason string) error {
	res := r.db.WithContext(ctx).Model(&MatchRecord{}).
		Where("id = ?", matchID).
		Updates(map[string]interface{}{
			"failure_reason":     reason,
			"settlement_retries": gorm.Expr("settlement_retries + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record settlement failure: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return market.ErrMatchNotFound
	}
	return nil
}

func (r *GormRepository) PendingSettlementMatches(ctx context.Context) ([]*market.Match, error) {
	var recs []MatchRecord
	err := r.db.WithContext(ctx).
		Where("settled = ?", false).
		Order("matched_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load pending settlements: %w", err)
	}
	out := make([]*market.Match, 0, len(recs))
	for i := range recs {
		out = append(out, fromMatchRecord(&recs[i]))
	}
	return out, nil
}

func (r *GormRepository) IsMatchSettled(ctx context.Context, matchID uuid.UUID) (bool, error) {
	var rec MatchRecord
	err := r.db.WithContext(ctx).Select("settled").Where("id = ?", matchID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, market.ErrMatchNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check settlement: %w", err)
	}
	return rec.Settled, nil
}
