// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy for the kernel core. Every public operation returns a
// *Fault (or nil) rather than panicking; Fault.Code lets callers switch on
// the surface kind without string matching.

package api

import "fmt"

// Code enumerates the surface error kinds a caller of the kernel core may
// observe. Encoding is deliberately opaque; callers should switch on Code,
// not on Error() text.
type Code int

const (
	CodeOK Code = iota
	CodeNotInitialized
	CodeAlreadyInitialized
	CodeInvalidSecureKey
	CodeServiceNotFound
	CodeServiceRegistryFull
	CodeServiceAlreadyRegistered
	CodeEventTypeRegistryFull
	CodeEventTypeNotFound
	CodeEventQueueFull
	CodeEventDataTooLarge
	CodeSubscriptionFull
	CodeSubscriptionNotFound
	CodeQuotaEventsExceeded
	CodeQuotaSubscriptionsExceeded
	CodeQuotaDataSizeExceeded
	CodeCircularDependency
	CodeDependencyFailed
	CodeWatchdogTimeout
	CodeRestartFailed
	CodeHandlerTimeout
	CodeAppContextInvalid
	CodeAppInvalidManifest
	CodeOutOfMemory
	CodeTimeout
	CodeInvalidArgument
)

var codeNames = map[Code]string{
	CodeOK:                       "OK",
	CodeNotInitialized:           "NotInitialized",
	CodeAlreadyInitialized:       "AlreadyInitialized",
	CodeInvalidSecureKey:         "InvalidSecureKey",
	CodeServiceNotFound:          "ServiceNotFound",
	CodeServiceRegistryFull:      "ServiceRegistryFull",
	CodeServiceAlreadyRegistered: "ServiceAlreadyRegistered",
	CodeEventTypeRegistryFull:    "EventTypeRegistryFull",
	CodeEventTypeNotFound:        "EventTypeNotFound",
	CodeEventQueueFull:           "EventQueueFull",
	CodeEventDataTooLarge:        "EventDataTooLarge",
	CodeSubscriptionFull:         "SubscriptionFull",
	CodeSubscriptionNotFound:     "SubscriptionNotFound",
	CodeQuotaEventsExceeded:      "QuotaEventsExceeded",
	CodeQuotaSubscriptionsExceeded: "QuotaSubscriptionsExceeded",
	CodeQuotaDataSizeExceeded:    "QuotaDataSizeExceeded",
	CodeCircularDependency:       "CircularDependency",
	CodeDependencyFailed:         "DependencyFailed",
	CodeWatchdogTimeout:          "WatchdogTimeout",
	CodeRestartFailed:            "RestartFailed",
	CodeHandlerTimeout:           "HandlerTimeout",
	CodeAppContextInvalid:        "AppContextInvalid",
	CodeAppInvalidManifest:       "AppInvalidManifest",
	CodeOutOfMemory:              "OutOfMemory",
	CodeTimeout:                  "Timeout",
	CodeInvalidArgument:          "InvalidArgument",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "Unknown"
}

// Fault is the structured error type returned across the kernel core's
// public API.
type Fault struct {
	Code    Code
	Message string
	Context map[string]any
}

func (e *Fault) Error() string {
	if len(e.Context) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (context: %+v)", e.Code, e.Message, e.Context)
}

// Is allows errors.Is(err, api.NewFault(code, "")) style comparisons by
// code alone.
func (e *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewFault constructs a *Fault with no context.
func NewFault(code Code, message string) *Fault {
	return &Fault{Code: code, Message: message}
}

// WithContext attaches diagnostic context and returns the same fault for
// chaining at the call site.
func (e *Fault) WithContext(key string, value any) *Fault {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the Code from err, returning CodeOK if err is nil and
// CodeInvalidArgument if err is not a *Fault (defensive default for code
// that forgot to wrap a plain error).
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if f, ok := err.(*Fault); ok {
		return f.Code
	}
	return CodeInvalidArgument
}
