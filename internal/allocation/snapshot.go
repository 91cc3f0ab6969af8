package allocation

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"main/internal/model"
)

type allocationRow struct {
	Version         uint64 `gorm:"primaryKey;autoIncrement:false"`
	GeneratedAtNano int64
	Fallback        bool
	Weights         string `gorm:"type:jsonb"`
}

func (allocationRow) TableName() string {
	return "allocation_snapshots"
}

// SnapshotStore keeps every published allocation in postgres so the active
// allocation survives restarts and old versions stay auditable.
type SnapshotStore struct {
	db *gorm.DB
}

func NewSnapshotStore(db *gorm.DB) (*SnapshotStore, error) {
	if err := db.AutoMigrate(&allocationRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate allocation snapshots")
	}
	return &SnapshotStore{db: db}, nil
}

func (s *SnapshotStore) Save(ctx context.Context, w model.AllocationWeights) error {
	raw, err := sonic.ConfigFastest.Marshal(w.Weights)
	if err != nil {
		return errors.Wrap(err, "marshal allocation weights")
	}
	row := allocationRow{
		Version:         w.Version,
		GeneratedAtNano: w.GeneratedAt.UnixNano(),
		Fallback:        w.Fallback,
		Weights:         string(raw),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "save allocation snapshot")
	}
	return nil
}

// Latest returns the highest-version snapshot, or ok=false when none exists.
func (s *SnapshotStore) Latest(ctx context.Context) (model.AllocationWeights, bool, error) {
	var row allocationRow
	err := s.db.WithContext(ctx).Order("version DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.AllocationWeights{}, false, nil
	}
	if err != nil {
		return model.AllocationWeights{}, false, errors.Wrap(err, "load allocation snapshot")
	}

	w := model.AllocationWeights{
		Version:     row.Version,
		Fallback:    row.Fallback,
		GeneratedAt: time.Unix(0, row.GeneratedAtNano).UTC(),
	}
	if err := sonic.ConfigFastest.Unmarshal([]byte(row.Weights), &w.Weights); err != nil {
		return model.AllocationWeights{}, false, errors.Wrap(err, "unmarshal allocation weights")
	}
	return w, true, nil
}
