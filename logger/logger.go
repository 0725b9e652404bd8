// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package logger

import "fmt"
import "os"

/* Logging levels. */
type LogLevel int
const (
    Error LogLevel = iota
    Warn
    Info
    Debug
    Trace
)


var level LogLevel = Info


func SetLevel(l LogLevel) {
    level = l
}


/* Set the level from a command-line name.  Unknown names leave the level untouched. */
func SetLevelByName(name string) error {
    switch name {
        case "error":  level = Error
        case "warn":   level = Warn
        case "info":   level = Info
        case "debug":  level = Debug
        case "trace":  level = Trace
        default:       return fmt.Errorf("Unknown log level: %v", name)
    }

    return nil
}


func IsError() bool {
    // Error logging is always enabled.
    return true
}


func IsWarn() bool {
    return level >= Warn
}


func IsInfo() bool {
    return level >= Info
}


func IsDebug() bool {
    return level >= Debug
}


func IsTrace() bool {
    return level >= Trace
}


func Errorf(format string, args ...interface{}) {
    if IsError() {
        fmt.Fprintf(os.Stderr, "ERROR: " + format, args...)
    }
}


func Warnf(format string, args ...interface{}) {
    if IsWarn() {
        fmt.Printf("Warning: " + format, args...)
    }
}


func Infof(format string, args ...interface{}) {
    if IsInfo() {
        fmt.Printf(format, args...)
    }
}


func Debugf(format string, args ...interface{}) {
    if IsDebug() {
        fmt.Printf(format, args...)
    }
}


func Tracef(format string, args ...interface{}) {
    if IsTrace() {
        fmt.Printf(format, args...)
    }
}
