// Package all registers every built-in export backend. Import it for side
// effects:
//
//	import _ "xer/internal/storage/all"
//
// after which storage.New accepts the kinds sqlite, postgres, mssql and
// mysql.
package all

import (
	_ "xer/internal/storage/mssql"
	_ "xer/internal/storage/mysql"
	_ "xer/internal/storage/postgres"
	_ "xer/internal/storage/sqlite"
)
