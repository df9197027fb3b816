package main

import (
	"context"
	"fmt"
	"os"

	"github.com/algoclash/judge-api/judge-api/cmd/judgectl/cmds"
	"github.com/algoclash/judge-api/judge-api/internal/logger"
)

func main() {
	logger.InitSlog()

	ctx := context.Background()
	if err := cmds.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		os.Exit(1)
	}
}
