package main

import (
	"fmt"
	"os"

	"carta/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "carta:", err)
		os.Exit(1)
	}
}
