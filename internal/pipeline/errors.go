package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedMessage 消息体无法解析或缺少必填字段，确认后丢弃
	ErrMalformedMessage = errors.New("pipeline: malformed message")
	// ErrNotReady 前置数据(例如向量)尚未生成，不重试
	ErrNotReady = errors.New("pipeline: prerequisites not ready")
)

// StepError 记录失败的处理步骤和对象
type StepError struct {
	Op  string
	Ref string
	Err error
}

func (e *StepError) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("%s (%s): %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepError(op, ref string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Op: op, Ref: ref, Err: err}
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// IsNotReady 是否为"尚未就绪"的预期情况
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}
