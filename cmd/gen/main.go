package main

import (
	"flag"

	"github.com/utrading/utrading-live-engine/config"
	"github.com/utrading/utrading-live-engine/internal/dal"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

// 生成 internal/dal/query 类型安全查询代码
// go run ./cmd/gen -config cfg.toml -out internal/dal/query
func main() {
	var configFile, out string
	var offline bool
	flag.StringVar(&configFile, "config", "cfg.toml", "config file path")
	flag.StringVar(&out, "out", "internal/dal/query", "output dir")
	flag.BoolVar(&offline, "offline", false, "generate from models only, without connecting database")
	flag.Parse()

	if offline {
		dal.GenExecute(out, nil)
		return
	}

	if err := config.Load(configFile); err != nil {
		panic(err)
	}
	conn, err := dal.Open(config.Get().Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database failed")
	}
	defer dal.CloseDB(conn)

	dal.GenExecute(out, conn)
	logger.Info().Str("out", out).Msg("query code generated")
}
