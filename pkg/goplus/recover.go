package goplus

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// Recover 捕获 panic 并记录调用栈，goroutine 不会带崩进程
func Recover() {
	if r := recover(); r != nil {
		logPanic(r)
	}
}

// RecoverWith 捕获 panic，记录后交给 fn 处理（例如把信号标记为失败）
func RecoverWith(fn func(r any)) {
	if r := recover(); r != nil {
		logPanic(r)
		if fn != nil {
			fn(r)
		}
	}
}

func logPanic(r any) {
	const maxDepth = 32
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("panic: %v\ncallers:\n", r))
	for i := 2; i <= maxDepth; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		sb.WriteString(fmt.Sprintf("%s:%d\n", file, line))
	}
	logger.Error().Msg(sb.String())
}
