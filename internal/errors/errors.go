package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于日志级别和告警。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Fatal     bool
	Alert     bool
}

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeConfig          Code = "CONFIG"
	CodeBuild           Code = "BUILD"
	CodeNetwork         Code = "NETWORK"
	CodeRejected        Code = "REJECTED"
	CodeTimeout         Code = "TIMEOUT"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeInvalidArgument: {
			Message:  "invalid argument",
			Severity: SeverityInfo,
		},
		CodeConfig: {
			Message:  "invalid configuration",
			Severity: SeverityCritical,
			Fatal:    true,
			Alert:    true,
		},
		CodeBuild: {
			Message:  "transfer could not be built",
			Severity: SeverityWarning,
		},
		CodeNetwork: {
			Message:   "ledger endpoint unreachable",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeRejected: {
			Message:   "transfer rejected by the ledger",
			Severity:  SeverityWarning,
			Retryable: true,
		},
		CodeTimeout: {
			Message:   "confirmation deadline exceeded",
			Severity:  SeverityWarning,
			Retryable: true,
			Alert:     true,
		},
	}
)

// 哨兵错误，配合 errors.Is 按错误码匹配。
var (
	ErrConfig   = New(CodeConfig, "")
	ErrBuild    = New(CodeBuild, "")
	ErrNetwork  = New(CodeNetwork, "")
	ErrRejected = New(CodeRejected, "")
	ErrTimeout  = New(CodeTimeout, "")
)

// Register 允许业务模块在初始化阶段注册新的错误码描述。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
	severity  *Severity
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Config 构造致命的配置错误。
func Config(format string, args ...any) *Error {
	return New(CodeConfig, fmt.Sprintf(format, args...))
}

// Build 构造交易组装错误。
func Build(format string, args ...any) *Error {
	return New(CodeBuild, fmt.Sprintf(format, args...))
}

// Network 包装传输层错误。
func Network(cause error, message string) *Error {
	return Wrap(CodeNetwork, cause, message)
}

// Rejected 包装链上拒绝错误，cause 可以为空。
func Rejected(cause error, message string) *Error {
	return Wrap(CodeRejected, cause, message)
}

// Timeout 包装确认超时错误，cause 为最后一次轮询的错误。
func Timeout(cause error, message string) *Error {
	return Wrap(CodeTimeout, cause, message)
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可在下一个周期重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// IsFatal 判断错误是否需要终止进程。只有启动阶段的错误会被标记为致命。
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return AttributesOf(CodeOf(err)).Fatal
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if err == nil {
		return false
	}
	return AttributesOf(CodeOf(err)).Alert
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return AttributesOf(CodeUnknown).Severity
}
