package main

import (
	"os"

	"piktag/internal/cmd"
	"piktag/internal/version"
)

// 通过 -ldflags "-X main.buildTime=... -X main.gitCommit=..." 注入
var (
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	version.SetBuildInfo(buildTime, gitCommit)
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
