package main

import (
	"context"
	"os"

	"gastos/internal/commands"
)

func main() {
	if err := commands.NewRootCommand(commands.Options{}).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
