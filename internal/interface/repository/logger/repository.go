package logger

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"assetcache/internal/domain"
)

// Repository はロガーのリポジトリ実装.
type Repository struct {
	logger    *zap.Logger
	file      *rotatingFile
	config    *RotationConfig
	done      chan struct{}
	closeOnce sync.Once
}

// Verify interface implementation.
var _ domain.Logger = (*Repository)(nil)

// New はファイルに出力する新しいRepositoryインスタンスを作成.
func New(directory, filename string, config *RotationConfig, level LogLevel) (
	*Repository, error,
) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}

	if config == nil {
		config = DefaultRotationConfig()
	}

	file, err := openRotatingFile(filepath.Join(directory, filename), config)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(file),
		level.zapLevel(),
	)

	logger := &Repository{
		logger: zap.New(core),
		file:   file,
		config: config,
		done:   make(chan struct{}),
	}

	// ログクリーンアップを定期的に実行
	go logger.periodicCleanup()

	return logger, nil
}

// NewConsole は標準エラー出力に出力するRepositoryを作成.
func NewConsole(level LogLevel) *Repository {
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig()),
		zapcore.Lock(os.Stderr),
		level.zapLevel(),
	)
	return NewWithZap(zap.New(core))
}

// NewWithZap は既存のzapロガーを包むRepositoryを作成.
func NewWithZap(z *zap.Logger) *Repository {
	return &Repository{logger: z}
}

// Zap は内部のzapロガーを返す.
func (r *Repository) Zap() *zap.Logger {
	return r.logger
}

// Info はINFOレベルのログを記録.
func (r *Repository) Info(msg string, fields map[string]interface{}) {
	r.logger.Info(msg, toZapFields(nil, fields)...)
}

// Warn はWARNレベルのログを記録.
func (r *Repository) Warn(
	msg string, err error, fields map[string]interface{},
) {
	r.logger.Warn(msg, toZapFields(err, fields)...)
}

// Error はERRORレベルのログを記録.
func (r *Repository) Error(
	msg string, err error, fields map[string]interface{},
) {
	r.logger.Error(msg, toZapFields(err, fields)...)
}

// Debug はDEBUGレベルのログを記録.
func (r *Repository) Debug(msg string, fields map[string]interface{}) {
	r.logger.Debug(msg, toZapFields(nil, fields)...)
}

// periodicCleanup は定期的に古いログファイルを削除.
func (r *Repository) periodicCleanup() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleanOldLogs(r.file.path, r.config)
		case <-r.done:
			return
		}
	}
}

// Close はロガーのリソースを解放.
func (r *Repository) Close() error {
	_ = r.logger.Sync()
	if r.file == nil {
		return nil
	}

	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.file.Close()
	})
	return err
}
