// SPDX-FileCopyrightText: 2026 Eliott Kespi
// SPDX-License-Identifier: GPL-2.0-only

package bench

import "errors"
import "fmt"


/*
 * Cooperative-cancellation signal.  Observing it at a checkpoint is not a
 * failure of the underlying system; whoever set the interruption flag had a
 * reason, so workers finish quietly when they see it.
 */
var ErrInterrupted = errors.New("received friendly request to interrupt execution")


/*
 * ConfigError means the configuration cannot work against the given targets
 * (bad range partitioning, impossible strategy combination and so forth).
 * It is detected at setup time and is fatal to the whole run.
 */
type ConfigError struct {
    msg string
}


func (e *ConfigError) Error() string {
    return e.msg
}


func configErrorf(format string, args ...interface{}) error {
    return &ConfigError{msg: fmt.Sprintf(format, args...)}
}
