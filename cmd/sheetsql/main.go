// Command sheetsql queries spreadsheet sheets with SQL.
package main

import (
	"os"

	"github.com/nao1215/sheetsql/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
