package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 初始化全局 zerolog 日志：dev 环境输出 debug 级别的可读控制台格式，
// 其他环境输出 info 级别的 JSON。
func Init(env string) {
	InitWriter(env, os.Stdout)
}

func InitWriter(env string, out io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339
	if env == "dev" {
		cw := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(cw).Level(zerolog.DebugLevel).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(out).Level(zerolog.InfoLevel).With().Timestamp().Str("service", "chatgate").Logger()
}
