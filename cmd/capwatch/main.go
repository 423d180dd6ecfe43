// Command capwatch runs capability scans against the job backend and
// follows them to completion.
package main

import (
	"os"

	"github.com/raysh454/capwatch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
