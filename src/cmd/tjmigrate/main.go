package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/consts"
	"github.com/Baxahaun/TheTradingMentorAPP-sub010/src/pkg/sentry"
)

// exitPanic 命令 panic 时的退出码
const exitPanic = 3

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()
	os.Exit(runSafely(func() int {
		return run(os.Args[1:], os.Stdout, os.Stderr)
	}, os.Stderr))
}

// runSafely 执行 fn，panic 上报后返回 exitPanic
func runSafely(fn func() int, errOut io.Writer) (code int) {
	defer sentry.Recover(func(v any) {
		fmt.Fprintf(errOut, "%s: panic: %v\n", consts.AppName, v)
		code = exitPanic
	})
	return fn()
}
