package main

import (
	"fmt"
	"os"

	"github.com/danmuck/igtlctl/internal/observability"
)

func main() {
	observability.InitLogger("igtlctl")
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "igtlctl: %v\n", err)
		os.Exit(1)
	}
}
