// Command edenctl hosts multi-agent engines over HTTP and runs JavaScript
// driver scripts against them.
package main

import (
	"fmt"
	"os"

	"github.com/MJE43/eden-env/internal/cli"
	_ "github.com/MJE43/eden-env/internal/sandbox"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
