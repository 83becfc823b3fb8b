package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"party-rooms/internal/domain"
)

// MigrateDB 创建或更新 rooms、players、game_states 三张表。
// players 和 game_states 上的外键带 ON DELETE CASCADE，删除房间时由数据库级联删除。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	// Room 放在最前面，它的 has-many 关系会在子表迁移时生成外键约束
	if err := db.AutoMigrate(&domain.Room{}, &domain.Player{}, &domain.GameState{}); err != nil {
		logrus.Errorf("Failed to auto-migrate tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}

	// 旧表可能缺少级联约束，逐个补齐
	for _, rel := range []string{"Players", "GameStates"} {
		if !db.Migrator().HasConstraint(&domain.Room{}, rel) {
			if err := db.Migrator().CreateConstraint(&domain.Room{}, rel); err != nil {
				return fmt.Errorf("failed to create %s cascade constraint: %w", rel, err)
			}
			logrus.Infof("Created cascade constraint for %s", rel)
		}
	}

	logrus.Info("Database migration completed successfully")
	return nil
}
