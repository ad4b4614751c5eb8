package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	lumberjackLogger = &lumberjack.Logger{
		Filename: getLogFilename(),
		MaxSize:  getMaxSizeMB(),
		MaxAge:   getMaxAgeDays(),
	}

	logger   = log.New(logOutput(), "", log.Ldate|log.Ltime|log.Lmicroseconds)
	minLevel = getMinLevel()
)

func getLogFilename() string {
	if logFile := os.Getenv("LOGFILE"); logFile != "" {
		return "./logs/" + logFile
	}
	return "./logs/gateguard.log"
}

func getMaxSizeMB() int {
	v := os.Getenv("LOGFILE_MAX_SIZE_MB")
	if v == "" {
		return 100
	}
	mb, err := strconv.Atoi(v)
	if err != nil {
		panic("Invalid value for LOGFILE_MAX_SIZE_MB: " + err.Error())
	}
	return mb
}

func getMaxAgeDays() int {
	v := os.Getenv("LOGFILE_MAX_AGE_DAYS")
	if v == "" {
		return 14
	}
	days, err := strconv.Atoi(v)
	if err != nil {
		panic("Invalid value for LOGFILE_MAX_AGE_DAYS: " + err.Error())
	}
	return days
}

// logOutput mirrors to stderr when LOG_STDERR=1 so local runs are visible
// without tailing the rotated file.
func logOutput() io.Writer {
	if os.Getenv("LOG_STDERR") == "1" {
		return io.MultiWriter(lumberjackLogger, os.Stderr)
	}
	return lumberjackLogger
}

func getMinLevel() Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func emit(level Level, color, tag, category string, content ...interface{}) {
	if level < minLevel {
		return
	}
	message := fmt.Sprint(content...)
	coloredCategory := fmt.Sprintf("%s[%s][%s]%s", color, tag, category, ColorReset)
	logger.Printf("%s: %s", coloredCategory, message)
}

func Debug(category string, content ...interface{}) {
	emit(LevelDebug, ColorBlue, "DEBUG", category, content...)
}

func Info(category string, content ...interface{}) {
	emit(LevelInfo, ColorGreen, "INFO", category, content...)
}

func Warn(category string, content ...interface{}) {
	emit(LevelWarn, ColorYellow, "WARN", category, content...)
}

func Error(category string, content ...interface{}) {
	emit(LevelError, ColorRed, "ERROR", category, content...)
}

// Infof logs a formatted message under a category.
func Infof(category, format string, args ...interface{}) {
	Info(category, fmt.Sprintf(format, args...))
}

// Warnf logs a formatted warning under a category.
func Warnf(category, format string, args ...interface{}) {
	Warn(category, fmt.Sprintf(format, args...))
}

// Errorf logs an error message and returns it as a formatted error.
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}
