package main

import (
	"fmt"
	"os"

	"github.com/ppiankov/claimsagent/internal/apperr"
	"github.com/ppiankov/claimsagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		if kind := apperr.KindOf(err); kind != apperr.KindInternal {
			fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
