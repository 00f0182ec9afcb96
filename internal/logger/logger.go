package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger represents a file logger for one trading session
type Logger struct {
	session string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
	logPath string
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelRisk    LogLevel = "RISK"
	LogLevelStatus  LogLevel = "STATUS"
)

// New creates a file logger for the named session (typically the broker
// name plus the primary symbols) under logs/.
func New(session string) (*Logger, error) {
	return NewAt("logs", session)
}

// NewAt creates a session logger in a specific directory.
func NewAt(logDir, session string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", session, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Timestamps are part of our own line format
	l := &Logger{
		session: session,
		logFile: file,
		logger:  log.New(file, "", 0),
		logDir:  logDir,
		logPath: logPath,
	}

	l.writeSessionHeader()

	return l, nil
}

// writeSessionHeader writes a session start header to the log
func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 TRADING SESSION STARTED
================================================================================
Session: %s
Started: %s
Log File: %s
================================================================================
`, l.session, time.Now().Format("2006-01-02 15:04:05"), filepath.Base(l.logPath))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("[%s] [%s] %s", timestamp, level, message)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs an execution-related action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Risk logs a risk-gate or sizing decision
func (l *Logger) Risk(format string, args ...interface{}) {
	l.Log(LogLevelRisk, format, args...)
}

// Status logs portfolio status information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogPortfolioStatus logs a multi-line portfolio snapshot
func (l *Logger) LogPortfolioStatus(equity, balance, exposure, totalVaR, drawdown float64, openPositions int, gateState string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	statusLog := fmt.Sprintf(`
[%s] [STATUS] ==================== PORTFOLIO STATUS ====================
💼 Equity: $%.2f | Balance: $%.2f
📊 Exposure: $%.2f | VaR: $%.2f | Drawdown: %.2f%%
📦 Open Positions: %d | Risk Gate: %s
==============================================================`,
		timestamp, equity, balance, exposure, totalVaR, drawdown*100, openPositions, gateState)

	l.logger.Println(statusLog)
}

// LogExecution logs a confirmed gateway execution
func (l *Logger) LogExecution(action string, ticket string, symbol string, side string, volume, price, stopLoss, takeProfit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	tradeLog := fmt.Sprintf(`
[%s] [TRADE] ==================== %s ====================
✅ Ticket: %s
📊 Symbol: %s | Side: %s
📦 Volume: %.2f lots
💰 Price: $%.5f
🛡️ Stop Loss: %.5f | Take Profit: %.5f
=============================================================`,
		timestamp, action, ticket, symbol, side, volume, price, stopLoss, takeProfit)

	l.logger.Println(tradeLog)
}

// LogPositionClosed logs the terminal record of a position
func (l *Logger) LogPositionClosed(ticket string, symbol string, profit float64, profitPips float64, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	closeLog := fmt.Sprintf(`
[%s] [TRADE] ==================== POSITION CLOSED ====================
🎯 Ticket: %s | Symbol: %s
💹 Profit: $%.2f (%.1f pips)
📋 Reason: %s
==============================================================`,
		timestamp, ticket, symbol, profit, profitPips, reason)

	l.logger.Println(closeLog)
}

// LogEmergencyStop logs the emergency latch with its trigger
func (l *Logger) LogEmergencyStop(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")

	alert := fmt.Sprintf(`
[%s] [RISK] ==================== EMERGENCY STOP ====================
🚨 Trading halted: %s
🔒 New admissions rejected until operator reset
=============================================================`,
		timestamp, reason)

	l.logger.Println(alert)
}

// LogError logs an error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// LogWarning logs a warning with context
func (l *Logger) LogWarning(context string, message string, args ...interface{}) {
	fullMessage := fmt.Sprintf(context+": "+message, args...)
	l.Warning("%s", fullMessage)
}

// Close writes the session footer and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		footer := fmt.Sprintf(`
================================================================================
🛑 TRADING SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, time.Now().Format("2006-01-02 15:04:05"))
		l.logger.Print(footer)

		return l.logFile.Close()
	}
	return nil
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	return l.logPath
}
