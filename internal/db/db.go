package db

import (
	"log"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Connect opens a gorm handle for the given DSN. MySQL DSNs are detected by
// the "@tcp(" marker; anything else is treated as a sqlite path/URI.
func Connect(dsn string) *gorm.DB {
	var dial gorm.Dialector
	if strings.Contains(dsn, "@tcp(") {
		dial = mysql.Open(dsn)
	} else {
		dial = sqlite.Open(dsn)
	}

	gdb, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	return gdb
}
