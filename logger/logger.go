package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（逐 bar 的信号与成交）
	INFO                  // 一般信息（回测、折叠、晋升进度）
	WARN                  // 警告信息（单个 bar 信号失败等可恢复问题）
	ERROR                 // 错误信息（数据加载失败、持久化失败）
	FATAL                 // 致命错误（程序无法继续）
)

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	// 文件日志
	fileEnabled bool
	fileLogger  *log.Logger
	logFile     *os.File
	currentDate string
	fileMu      sync.Mutex
	logDir      = "logs"

	console = log.New(os.Stderr, "", log.LstdFlags)
)

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串，无法识别时返回 INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetLevel 设置全局日志级别
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	globalLevel = level
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// EnableFile 启用按日期轮转的文件日志，dir 为空时使用 logs/
func EnableFile(dir string) error {
	fileMu.Lock()
	defer fileMu.Unlock()
	if dir != "" {
		logDir = dir
	}
	fileEnabled = true
	return rotateLocked()
}

// rotateLocked 日期变化时重新打开日志文件，调用前必须持有 fileMu
func rotateLocked() error {
	today := time.Now().Format("2006-01-02")
	if fileLogger != nil && currentDate == today {
		return nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileLogger = nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志文件夹失败: %w", err)
	}
	name := filepath.Join(logDir, fmt.Sprintf("app-quantgate-%s.log", today))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	logFile = file
	currentDate = today
	fileLogger = log.New(file, "", 0)
	return nil
}

// Close 关闭文件日志（程序退出时调用）
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()
	fileEnabled = false
	if logFile != nil {
		logFile.Close()
		logFile = nil
		fileLogger = nil
		currentDate = ""
	}
}

func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

// SetOutput 替换控制台输出目标
func SetOutput(w io.Writer) {
	console.SetOutput(w)
}

// write 控制台输出，并在启用时写入文件
func write(message string) {
	console.Print(message)

	fileMu.Lock()
	defer fileMu.Unlock()
	if !fileEnabled {
		return
	}
	if err := rotateLocked(); err != nil {
		return
	}
	fileLogger.Printf("%s %s", time.Now().Format("2006/01/02 15:04:05"), message)
}

func logf(level LogLevel, format string, args ...interface{}) {
	if !shouldLog(level) {
		return
	}
	write(fmt.Sprintf("[%s] "+format, append([]interface{}{level.String()}, args...)...))
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	Close()
	os.Exit(1)
}
