package app

import (
	"io"
	"strings"

	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
	"github.com/ggonzalez94/sideshift-bridge/internal/version"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger writes JSON logs to w. Envelopes go to stdout and stderr as
// well, so the default level keeps logs out of the way.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse log level", err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), zap.NewAtomicLevelAt(lvl))
	return zap.New(core).With(zap.String("cli", version.CLIName)), nil
}
