package main

import (
	"os"
	"runtime/debug"

	"gateguard/cmd"
	"gateguard/logx"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_ = logx.Errorf("GATEWAY CRASHED: %v\n%s", r, debug.Stack())
			os.Exit(1)
		}
	}()

	cmd.Execute()
}
