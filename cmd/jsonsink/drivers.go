package main

import (
	"fmt"
	"strings"

	"github.com/rushairer/jsonsink"
	"github.com/rushairer/jsonsink/drivers/mysql"
	"github.com/rushairer/jsonsink/drivers/postgresql"
	"github.com/rushairer/jsonsink/drivers/sqlite"
)

// resolveDriver 把用户给出的驱动名映射为 database/sql 驱动名与方言
func resolveDriver(name string) (string, jsonsink.Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pq":
		return "postgres", postgresql.Default, nil
	case "mysql":
		return "mysql", mysql.Default, nil
	case "sqlite3", "sqlite":
		return "sqlite3", sqlite.Default, nil
	default:
		return "", nil, fmt.Errorf("unsupported driver %q (want postgres, mysql or sqlite3)", name)
	}
}
