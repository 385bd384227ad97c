// Package errors 定义服务内部统一的错误码以及错误码到 HTTP 状态的映射。
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Code 表示统一错误码，同时作为 API 响应中的 errorCode。
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
)

// Attributes 描述错误码的默认文案与对外暴露的 HTTP 状态。
type Attributes struct {
	Message string
	Status  int
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {Message: "unknown error", Status: http.StatusInternalServerError},
		CodeInvalidArgument:       {Message: "invalid argument", Status: http.StatusBadRequest},
		CodeNotFound:              {Message: "resource not found", Status: http.StatusNotFound},
		CodeConflict:              {Message: "resource conflict", Status: http.StatusConflict},
		CodePermissionDenied:      {Message: "permission denied", Status: http.StatusForbidden},
		CodeUnauthenticated:       {Message: "authentication required", Status: http.StatusUnauthorized},
		CodeInitializationFailure: {Message: "service not initialized", Status: http.StatusInternalServerError},
		CodeStorageFailure:        {Message: "storage failure", Status: http.StatusInternalServerError},
	}
)

// Register 在包初始化阶段登记业务错误码。Status 为零时按 500 处理。
func Register(code Code, attr Attributes) {
	if attr.Status == 0 {
		attr.Status = http.StatusInternalServerError
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf 返回错误码的属性，未登记的错误码回落到 UNKNOWN。
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Codes 按字典序返回全部已登记的错误码。
func Codes() []Code {
	registryMu.RLock()
	codes := make([]Code, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	registryMu.RUnlock()
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Error 携带错误码、面向调用方的描述以及底层原因。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 调整新建的错误。
type Option func(*Error)

// WithMetadata 附加一条用于日志的键值信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建错误；message 为空时使用错误码的默认文案。
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

// Wrap 用统一错误包裹 cause，cause 不会出现在 Message 中。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 使 errors.Is 按错误码比较两个 *Error。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if e == nil || !ok || t == nil {
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

// Message 返回可以直接返回给调用方的描述。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
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

// From 从错误链中取出 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误码，非统一错误视为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// StatusOf 返回 err 对应的 HTTP 状态码。
func StatusOf(err error) int {
	return AttributesOf(CodeOf(err)).Status
}

// Is 判断 err 是否携带指定错误码。
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
