package form

import (
	"errors"
	"fmt"
)

// ErrorKind 表示表单可见错误的类别。
type ErrorKind int

const (
	// KindNone 表示没有错误。
	KindNone ErrorKind = iota
	KindFileTooLarge
	KindUnsupportedFileType
	KindTextTooLong
	KindMissingFile
	KindMissingText
	KindSynthesisFailed
)

var kindNames = [...]string{
	"None",
	"FileTooLarge",
	"UnsupportedFileType",
	"TextTooLong",
	"MissingFile",
	"MissingText",
	"SynthesisFailed",
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Unknown"
}

// Message 返回展示给用户的提示文案。
func (k ErrorKind) Message() string {
	switch k {
	case KindFileTooLarge:
		return "Oops, this file is too big! Please try again with a file smaller than 5MB."
	case KindUnsupportedFileType:
		return "Oops, this file format is not supported! Please upload an audio file."
	case KindTextTooLong:
		return "Oops, your text is too long! Please keep it under 500 characters."
	case KindMissingFile:
		return "Please upload a voice file first."
	case KindMissingText:
		return "Please enter some text to synthesize."
	case KindSynthesisFailed:
		return "An error occurred during synthesis. Please try again."
	}
	return ""
}

// 各错误类别对应的哨兵错误，用于 errors.Is 判断。
var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrTextTooLong         = errors.New("text too long")
	ErrMissingFile         = errors.New("missing file")
	ErrMissingText         = errors.New("missing text")
	ErrSynthesisFailed     = errors.New("synthesis failed")

	// ErrBusy 表示已有合成请求在进行中，本次提交被忽略。
	ErrBusy = errors.New("synthesis already in progress")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindFileTooLarge:
		return ErrFileTooLarge
	case KindUnsupportedFileType:
		return ErrUnsupportedFileType
	case KindTextTooLong:
		return ErrTextTooLong
	case KindMissingFile:
		return ErrMissingFile
	case KindMissingText:
		return ErrMissingText
	case KindSynthesisFailed:
		return ErrSynthesisFailed
	}
	return nil
}

// Error 是控制器对外暴露的唯一错误类型。
// Cause 仅用于日志，不会展示给用户。
type Error struct {
	Kind  ErrorKind
	Cause error
}

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return e.Kind.String()
}

// Message 返回用户可见的提示文案。
func (e *Error) Message() string {
	return e.Kind.Message()
}

// Is 让 errors.Is(err, ErrFileTooLarge) 这类判断生效。
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf 提取错误类别，非表单错误返回 KindNone。
func KindOf(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNone
}
