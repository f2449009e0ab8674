package database

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"moff.io/snap-bridge/internal/config"
	"moff.io/snap-bridge/pkg/log"
)

var (
	Postgres *gorm.DB
)

func InitPostgres(conf *config.DBCredential) {
	cli, err := gorm.Open(postgres.Open(conf.Dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		log.Fatalf("connect to pg:%v", err)
	}
	Postgres = cli

	db, err := cli.DB()
	if err != nil {
		log.Fatalf("get pg conn:%v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("ping to pg:%v", err)
	}
	log.Info("Connected to postgres...")

	if err := Postgres.AutoMigrate(&ActionRecord{}); err != nil {
		log.Fatalf("autoMigrate tables:%v", err)
	}
}

func Close() {
	if Postgres == nil {
		return
	}
	if db, err := Postgres.DB(); err == nil {
		_ = db.Close()
	}
	Postgres = nil
}
