package bootstrap

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"argus/config"
)

// InitLogger builds the application logger from the logging config.
// Console output uses colored development encoding; setting logging.json
// switches to production JSON encoding for log shippers.
func InitLogger(cfg *config.Config) (*zap.Logger, *zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg != nil && cfg.Logging.Level != "" {
		if err := level.Set(cfg.Logging.Level); err != nil {
			return nil, nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Logging.Level, err)
		}
	}

	var encoder zapcore.Encoder
	if cfg != nil && cfg.Logging.JSON {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// EnsureDataDir creates the data directory and verifies it is writable.
// This is a pre-flight check that runs before storage initialization.
func EnsureDataDir(cfg *config.Config, sugar *zap.SugaredLogger) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
	}

	testFile := cfg.DataDir + "/.argus_write_test"
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return fmt.Errorf("data directory %s is not writable: %w", cfg.DataDir, err)
	}
	os.Remove(testFile)

	sugar.Infow("Data directory ready", "path", cfg.DataDir)
	return nil
}
