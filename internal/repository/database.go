package repository

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite" // 纯 Go SQLite 驱动
	"github.com/yuqie6/WeekDigest/internal/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database 数据库管理器
type Database struct {
	DB            *gorm.DB
	SchemaVersion int
}

// NewDatabase 创建数据库连接并迁移
func NewDatabase(dbPath string) (*Database, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: schema.NowUTC,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if dbPath == ":memory:" {
		// 每个连接各自一份内存库，只能单连接
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := configureDB(db); err != nil {
		return nil, fmt.Errorf("配置数据库失败: %w", err)
	}

	d := &Database{DB: db}
	if err := migrateWithVersion(db, d); err != nil {
		_ = d.Close()
		return nil, err
	}

	slog.Info("数据库初始化成功", "path", dbPath, "schema_version", d.SchemaVersion)
	return d, nil
}

// configureDB 配置 SQLite 参数
func configureDB(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",   // 回填期间读写并发
		"PRAGMA synchronous=NORMAL", // 平衡性能与安全
		"PRAGMA busy_timeout=5000",  // 写锁竞争时等待而不是立即 SQLITE_BUSY
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("执行 %s 失败: %w", pragma, err)
		}
	}
	return nil
}

const latestSchemaVersion = 1

func migrateWithVersion(db *gorm.DB, out *Database) error {
	if db == nil {
		return fmt.Errorf("db 不能为空")
	}

	// 先确保 schema_meta 存在
	if err := db.AutoMigrate(&schema.SchemaMeta{}); err != nil {
		return fmt.Errorf("创建 schema_meta 失败: %w", err)
	}

	var meta schema.SchemaMeta
	err := db.First(&meta, 1).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("读取 schema_meta 失败: %w", err)
		}
		meta = schema.SchemaMeta{ID: 1, SchemaVersion: 0}
		if err := db.Create(&meta).Error; err != nil {
			return fmt.Errorf("初始化 schema_meta 失败: %w", err)
		}
	}

	out.SchemaVersion = meta.SchemaVersion
	if meta.SchemaVersion > latestSchemaVersion {
		return fmt.Errorf("数据库 schema_version=%d 高于当前程序支持的版本=%d", meta.SchemaVersion, latestSchemaVersion)
	}

	// AutoMigrate 幂等，每次启动都执行以补齐索引
	if err := db.AutoMigrate(schema.Models()...); err != nil {
		return fmt.Errorf("迁移数据库失败: %w", err)
	}

	if meta.SchemaVersion < latestSchemaVersion {
		meta.SchemaVersion = latestSchemaVersion
		if err := db.Save(&meta).Error; err != nil {
			return fmt.Errorf("写入 schema_meta 失败: %w", err)
		}
	}
	out.SchemaVersion = latestSchemaVersion
	return nil
}

// Close 关闭数据库连接
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
