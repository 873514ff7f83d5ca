package models

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"StoryToVideo-studio/config"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *sql.DB
var GormDB *gorm.DB

// InitDB opens the MySQL pool from config.AppConfig and migrates the tables
// owned by the studio server.
func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	db, err := sql.Open("mysql", config.AppConfig.MySQL.DSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("connect database: %v", err)
	}
	DB = db

	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		log.Fatalf("gorm init: %v", err)
	}
	if err := Migrate(GormDB); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("Database connected (native SQL + GORM)")
}

// Migrate creates or updates the studio tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&VideoProgress{}, &StageRecord{}, &JobRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
