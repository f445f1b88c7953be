package database

import (
	"sitechat-go/internal/model"
	"sitechat-go/pkg/log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接并迁移表结构
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	// 自动迁移本服务的数据模型
	err = DB.AutoMigrate(
		&model.User{},
		&model.TrainingPair{},
		&model.ConversationTurn{},
		&model.UsageStat{},
	)
	if err != nil {
		log.Fatal("failed to migrate database schema", err)
	}

	log.Info("MySQL database connected successfully")
}
