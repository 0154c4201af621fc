package main

import (
	"os"

	"github.com/ngageoint/scale/cmd/scheduler/cmd"
	"github.com/ngageoint/scale/internal/common"
)

func main() {
	common.ConfigureLogging("info")
	common.BindCommandlineArguments()
	err := cmd.RootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
