package main

import (
	"fmt"
	"os"

	"github.com/matrix-org/go-widget-api/bridge"
)

func main() {
	if err := bridge.Run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
