/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package util

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/otiai10/copy"
)

var Verbosity int
var logFile *os.File

type ComposerError struct {
	Parent     error
	Text       string
	StackTrace []byte
}

const (
	VERBOSITY_SILENT  = 0
	VERBOSITY_QUIET   = 1
	VERBOSITY_DEFAULT = 2
	VERBOSITY_VERBOSE = 3
)

func (ce *ComposerError) Error() string {
	return ce.Text
}

func (ce *ComposerError) Unwrap() error {
	return ce.Parent
}

func NewComposerError(msg string) *ComposerError {
	err := &ComposerError{
		Text:       msg,
		StackTrace: make([]byte, 65536),
	}

	stackLen := runtime.Stack(err.StackTrace, true)
	err.StackTrace = err.StackTrace[:stackLen]

	return err
}

func FmtComposerError(format string, args ...interface{}) *ComposerError {
	return NewComposerError(fmt.Sprintf(format, args...))
}

// PreComposerError prefixes the text of an existing error.  Errors that are
// not ComposerErrors are wrapped first.
func PreComposerError(err error, format string,
	args ...interface{}) *ComposerError {

	baseErr, ok := err.(*ComposerError)
	if !ok {
		baseErr = ChildComposerError(err)
	}
	baseErr.Text = fmt.Sprintf(format, args...) + "; " + baseErr.Text

	return baseErr
}

func ChildComposerError(parent error) *ComposerError {
	for {
		ce, ok := parent.(*ComposerError)
		if !ok || ce == nil || ce.Parent == nil {
			break
		}
		parent = ce.Parent
	}

	ce := NewComposerError(parent.Error())
	ce.Parent = parent
	return ce
}

func FmtChildComposerError(parent error, format string,
	args ...interface{}) *ComposerError {

	ce := ChildComposerError(parent)
	ce.Text = fmt.Sprintf(format, args...)
	return ce
}

// Print Silent, Quiet and Verbose aware status messages to the specified file.
func WriteMessage(f *os.File, level int, message string,
	args ...interface{}) {

	if Verbosity >= level {
		str := fmt.Sprintf(message, args...)
		f.WriteString(str)
		f.Sync()

		if logFile != nil {
			logFile.WriteString(str)
		}
	}
}

// Print Silent, Quiet and Verbose aware status messages to stdout.
func StatusMessage(level int, message string, args ...interface{}) {
	WriteMessage(os.Stdout, level, message, args...)
}

// Print Silent, Quiet and Verbose aware status messages to stderr.
func ErrorMessage(level int, message string, args ...interface{}) {
	WriteMessage(os.Stderr, level, message, args...)
}

func NodeExist(path string) bool {
	if _, err := os.Stat(path); err == nil {
		return true
	} else {
		return false
	}
}

func NodeNotExist(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true
	} else {
		return false
	}
}

type logFormatter struct{}

func (f *logFormatter) Format(entry *log.Entry) ([]byte, error) {
	// 2016/03/16 12:50:47 [DEBUG]

	b := &bytes.Buffer{}

	b.WriteString(entry.Time.Format("2006/01/02 15:04:05.000 "))
	b.WriteString("[" + strings.ToUpper(entry.Level.String()) + "] ")
	b.WriteString(entry.Message)
	b.WriteByte('\n')

	return b.Bytes(), nil
}

func initLog(level log.Level, logFilename string) error {
	log.SetLevel(level)

	var writer io.Writer
	if logFilename == "" {
		writer = os.Stderr
	} else {
		var err error
		logFile, err = os.Create(logFilename)
		if err != nil {
			return ChildComposerError(err)
		}

		writer = io.MultiWriter(os.Stderr, logFile)
	}

	log.SetOutput(writer)
	log.SetFormatter(&logFormatter{})

	return nil
}

// Initialize the util module
func Init(logLevel log.Level, logFile string, verbosity int) error {
	// The level filter is applied before the log file is opened so that
	// failures to open it are reported at the requested level.
	if err := initLog(logLevel, ""); err != nil {
		return err
	}
	if logFile != "" {
		if err := initLog(logLevel, logFile); err != nil {
			return err
		}
	}

	Verbosity = verbosity

	return nil
}

// Converts the specified string to an integer.  The string can be in base-10
// or base-16.  This is equivalent to the "0" base used in the standard
// conversion functions, except octal is not supported (a leading zero implies
// decimal).
//
// The second return value is true on success.
func AtoiNoOctTry(s string) (int, bool) {
	var runLen int
	for runLen = 0; runLen < len(s)-1; runLen++ {
		if s[runLen] != '0' || s[runLen+1] == 'x' || s[runLen+1] == 'X' {
			break
		}
	}

	if runLen > 0 {
		s = s[runLen:]
	}

	i, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, false
	}

	return int(i), true
}

func AtoiNoOct(s string) (int, error) {
	val, success := AtoiNoOctTry(s)
	if !success {
		return 0, FmtComposerError("Invalid number: \"%s\"", s)
	}

	return val, nil
}

// ParseSize converts a size string such as "4096", "0x1000", "4K", "4kb" or
// "2M" to a byte count.
func ParseSize(val string) (int, error) {
	lower := strings.ToLower(strings.TrimSpace(val))

	multiplier := 1
	for _, sfx := range []struct {
		text string
		mult int
	}{
		{"kb", 1024},
		{"k", 1024},
		{"mb", 1024 * 1024},
		{"m", 1024 * 1024},
	} {
		if strings.HasSuffix(lower, sfx.text) &&
			!strings.HasPrefix(lower, "0x") {

			multiplier = sfx.mult
			lower = strings.TrimSuffix(lower, sfx.text)
			break
		}
	}

	num, err := AtoiNoOct(lower)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

func IsNotExist(err error) bool {
	ce, ok := err.(*ComposerError)
	if ok {
		err = ce.Parent
	}

	return os.IsNotExist(err)
}

// FormatSize renders a byte count with a binary unit, e.g. "100.0 KB".
func FormatSize(bytes int) string {
	units := []string{"B", "KB", "MB", "GB"}

	size := float64(bytes)
	unit := 0
	for size >= 1024.0 && unit < len(units)-1 {
		size /= 1024.0
		unit++
	}

	if unit == 0 {
		return fmt.Sprintf("%d %s", bytes, units[unit])
	}
	return fmt.Sprintf("%.1f %s", size, units[unit])
}

func AlignUp(size int, alignment int) int {
	return ((size + alignment - 1) / alignment) * alignment
}

func CopyDir(srcDirStr, dstDirStr string) error {
	opt := copy.Options{
		OnSymlink: func(src string) copy.SymlinkAction {
			return copy.Shallow
		},
	}

	err := copy.Copy(srcDirStr, dstDirStr, opt)

	if err != nil {
		return ChildComposerError(err)
	}

	return nil
}

// WriteFileAtomic writes data to a temporary file in the destination
// directory and renames it over the destination.  The destination is never
// left partially written.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return ChildComposerError(err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return ChildComposerError(err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return FmtChildComposerError(err,
			"Failed to write \"%s\": %s", path, err.Error())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ChildComposerError(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ChildComposerError(err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return ChildComposerError(err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ChildComposerError(err)
	}

	log.Debugf("Wrote %d bytes to %s", len(data), path)
	return nil
}
