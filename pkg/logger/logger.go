// Package logger defines the logging interface shared by the planner,
// executor, and sync engine.
package logger

import (
	"fmt"
	"log"
	"os"
)

// Logger receives sync lifecycle events.
type Logger interface {
	Copy(source, dest string)
	Delete(dest string)
	Error(operation, path string, err error)
	Info(format string, args ...interface{})
	Debug(message string)
}

// SyncLogger is the default logger used by the CLI. In dry-run mode actions
// are printed with a "(dryrun)" prefix; in quiet mode only errors are
// printed.
type SyncLogger struct {
	IsDryRun bool
	IsQuiet  bool
}

func (l *SyncLogger) Copy(source, dest string) {
	l.action(fmt.Sprintf("copy: %s -> %s", source, dest))
}

func (l *SyncLogger) Delete(dest string) {
	l.action(fmt.Sprintf("delete: %s", dest))
}

func (l *SyncLogger) Error(operation, path string, err error) {
	fmt.Fprintf(os.Stderr, "ERROR %s %s: %v\n", operation, path, err)
}

func (l *SyncLogger) Info(format string, args ...interface{}) {
	if !l.IsQuiet {
		fmt.Printf(format+"\n", args...)
	}
}

func (l *SyncLogger) Debug(message string) {
	if !l.IsQuiet {
		log.Printf("DEBUG: %s", message)
	}
}

func (l *SyncLogger) action(msg string) {
	if l.IsQuiet {
		return
	}
	if l.IsDryRun {
		fmt.Printf("(dryrun) %s\n", msg)
		return
	}
	fmt.Println(msg)
}

// Null discards everything. Used in tests.
type Null struct{}

func (Null) Copy(source, dest string)                {}
func (Null) Delete(dest string)                      {}
func (Null) Error(operation, path string, err error) {}
func (Null) Info(format string, args ...interface{}) {}
func (Null) Debug(message string)                    {}
