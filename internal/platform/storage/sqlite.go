package storage

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"

	"medgate/internal/platform/errors"
)

// OpenSQLite opens the session database and applies the schema.
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.open", "open sqlite database", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.migrate", "migrate session schema", err)
	}
	return db, nil
}
