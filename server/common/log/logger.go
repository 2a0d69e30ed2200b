package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultLogFilePath  = "./logs/umrah_portal.log"
	defaultMaxSizeBytes = 20 * 1024 * 1024
	envLogFilePath      = "LOG_FILE_PATH"
	envLogMaxSizeMB     = "LOG_MAX_SIZE_MB"
	envLogFormat        = "LOG_FORMAT"
	envLogLevel         = "LOG_LEVEL"
	logFormatText       = "text"
	logFormatJSON       = "json"
	fileDisabled        = "off"
)

var global = newLoggerFromEnv()

type rotatingFile struct {
	mu           sync.Mutex
	filePath     string
	maxSizeBytes int64
	file         *os.File
}

type logger struct {
	zl zerolog.Logger
}

func newLoggerFromEnv() *logger {
	path := strings.TrimSpace(os.Getenv(envLogFilePath))
	if path == "" {
		path = defaultLogFilePath
	}

	maxSizeBytes := int64(defaultMaxSizeBytes)
	if raw := strings.TrimSpace(os.Getenv(envLogMaxSizeMB)); raw != "" {
		if sizeMB, err := strconv.Atoi(raw); err == nil && sizeMB > 0 {
			maxSizeBytes = int64(sizeMB) * 1024 * 1024
		}
	}
	format := strings.ToLower(strings.TrimSpace(os.Getenv(envLogFormat)))
	if format != logFormatJSON {
		format = logFormatText
	}

	var console io.Writer = os.Stdout
	if format == logFormatText {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339Nano}
	}
	writers := []io.Writer{console}
	if !strings.EqualFold(path, fileDisabled) {
		writers = append(writers, &rotatingFile{filePath: path, maxSizeBytes: maxSizeBytes})
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(os.Getenv(envLogLevel))))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.DebugLevel
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &logger{zl: zl}
}

func Debugf(format string, args ...any) {
	global.logf(global.zl.Debug(), format, args...)
}

func Infof(format string, args ...any) {
	global.logf(global.zl.Info(), format, args...)
}

func Warnf(format string, args ...any) {
	global.logf(global.zl.Warn(), format, args...)
}

func Errorf(format string, args ...any) {
	global.logf(global.zl.Error(), format, args...)
}

// Exceptionf logs at error level and tags the line so unexpected failures can
// be told apart from handled ones.
func Exceptionf(format string, args ...any) {
	global.logf(global.zl.Error().Bool("exception", true), format, args...)
}

func (l *logger) logf(ev *zerolog.Event, format string, args ...any) {
	if ev == nil {
		return
	}
	ev.Str("caller", callerFuncName(3)).Msg(fmt.Sprintf(format, args...))
}

func (f *rotatingFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureOpen(); err != nil {
		fmt.Fprintf(os.Stderr, "logger open file error: %v\n", err)
		return len(p), nil
	}
	if err := f.rotateIfNeeded(int64(len(p))); err != nil {
		fmt.Fprintf(os.Stderr, "logger rotate error: %v\n", err)
		return len(p), nil
	}
	if _, err := f.file.Write(p); err != nil {
		fmt.Fprintf(os.Stderr, "logger write error: %v\n", err)
	}
	return len(p), nil
}

func (f *rotatingFile) ensureOpen() error {
	if f.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.filePath), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(f.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	f.file = file
	return nil
}

func (f *rotatingFile) rotateIfNeeded(incomingSize int64) error {
	if f.file == nil {
		return nil
	}
	stat, err := f.file.Stat()
	if err != nil {
		return err
	}
	if stat.Size()+incomingSize <= f.maxSizeBytes {
		return nil
	}

	if err := f.file.Close(); err != nil {
		return err
	}
	rotatedPath, err := nextRotatedPath(f.filePath)
	if err != nil {
		return err
	}
	if err := os.Rename(f.filePath, rotatedPath); err != nil {
		return err
	}

	file, err := os.OpenFile(f.filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	f.file = file
	return nil
}

func nextRotatedPath(currentPath string) (string, error) {
	dir := filepath.Dir(currentPath)
	ext := filepath.Ext(currentPath)
	base := strings.TrimSuffix(filepath.Base(currentPath), ext)
	ts := time.Now().Format("20060102_150405")

	for index := 1; ; index++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", base, ts, index, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}

func callerFuncName(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	parts := strings.Split(fn.Name(), "/")
	return parts[len(parts)-1]
}
