package prompt

import (
	"fmt"
	"strings"

	"github.com/turbobackend/worker/internal/dbprovision"
)

// Database returns the database section (§4.8 step 2): every designed
// table's name and columns, plus the instruction to create a connection
// utility file.
func Database(schema *dbprovision.Schema) Section {
	var b strings.Builder
	b.WriteString("The following database has already been provisioned for this project:\n\n")
	for _, table := range schema.Tables {
		fmt.Fprintf(&b, "- %s:\n", table.TableName)
		for _, col := range table.Columns {
			fmt.Fprintf(&b, "    %s %s %s\n", col.Name, col.Type, col.Constraints)
		}
	}
	b.WriteString(`
Create a connection utility file at server/utils/db.js that reads
DB_HOST, DB_PORT, DB_NAME, DB_USER, DB_PASSWORD from the environment and
exports a ready-to-use connection pool. Every query against this database
must use parameterized queries, never string-concatenated SQL, and must
handle and surface errors rather than swallowing them.`)
	return Section{Title: "Database", Body: b.String()}
}
