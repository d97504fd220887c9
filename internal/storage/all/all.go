// Package all links every storage backend and the SQL Server driver.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "transitlake/internal/storage/mssql"
	_ "transitlake/internal/storage/postgres"
	_ "transitlake/internal/storage/sqlite"
)
