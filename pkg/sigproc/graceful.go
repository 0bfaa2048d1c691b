package sigproc

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/utrading/utrading-live-engine/pkg/goplus"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

type HandlerFunc func(os.Signal)

// GracefulShutdown 收到退出信号后执行 shutdown，超过 timeout 强制退出
func GracefulShutdown(timeout time.Duration, shutdown HandlerFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	goplus.Go(func() {
		sig := <-sigChan
		logger.Info().Str("signal", sig.String()).Msg("received signal")

		done := make(chan struct{})
		goplus.Go(func() {
			defer close(done)
			shutdown(sig)
		})

		select {
		case <-done:
		case <-time.After(timeout):
			logger.Warn().Dur("timeout", timeout).Msg("graceful shutdown timed out")
		}

		os.Exit(0)
	})
}
