// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// SessionRejectReason 取值（tag 373）。
const (
	RejectReasonInvalidTagNumber           = 0
	RejectReasonRequiredTagMissing         = 1
	RejectReasonTagNotDefinedForMsgType    = 2
	RejectReasonUndefinedTag               = 3
	RejectReasonTagSpecifiedWithoutValue   = 4
	RejectReasonValueIncorrect             = 5
	RejectReasonIncorrectDataFormat        = 6
	RejectReasonCompIDProblem              = 9
	RejectReasonSendingTimeAccuracyProblem = 10
	RejectReasonInvalidMsgType             = 11
	RejectReasonTagAppearsMoreThanOnce     = 13
	RejectReasonOther                      = 99
	rejectReasonNone                       = -1
)

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Framing related
	ErrFramingGarbled      = newFixError("garbled message", 100, false)
	ErrFramingBodyLength   = newFixError("body length mismatch", 101, false)
	ErrFramingChecksum     = newFixError("checksum mismatch", 102, false)
	ErrFramingTooLarge     = newFixError("message too large", 103, false)
	ErrFramingMalformedTag = newFixError("malformed field", 104, false)

	// Protocol related
	ErrProtocolSeqNumTooLow       = newFixError("MsgSeqNum too low", 200, false)
	ErrProtocolFirstNotLogon      = newFixError("first message is not a logon", 201, false)
	ErrProtocolUnknownSession     = newFixError("unknown session", 202, false)
	ErrProtocolBeginString        = newFixError("incorrect BeginString", 203, false)
	ErrProtocolResendExhausted    = newFixError("resend retries exhausted", 204, false)
	ErrProtocolHeartbeatTimeout   = newFixError("heartbeat timeout", 205, true)
	ErrProtocolLogonTimeout       = newFixError("logon timeout", 206, true)
	ErrProtocolSessionBusy        = newFixError("session already connected", 207, true)
	ErrProtocolOutsideSchedule    = newFixError("outside of session schedule", 208, true)
	ErrProtocolInvalidSeqReset    = newFixError("invalid sequence reset", 209, false)
	ErrProtocolCompIDProblem      = newFixError("CompID problem", 210, false, withReason(RejectReasonCompIDProblem))
	ErrProtocolSendingTimeProblem = newFixError("SendingTime accuracy problem", 211, false, withReason(RejectReasonSendingTimeAccuracyProblem))

	// Configuration related
	ErrConfigInvalid          = newFixError("invalid configuration", 300, false)
	ErrConfigMissing          = newFixError("missing configuration", 301, false)
	ErrConfigUnknownProtocol  = newFixError("unknown transport protocol", 302, false)
	ErrConfigDuplicateSession = newFixError("duplicate session", 303, false)
	ErrConfigKeyStore         = newFixError("unable to load key store", 304, false)

	// Send related
	ErrSessionNotLoggedOn = newFixError("session not logged on", 400, true)
	ErrOutboundQueueFull  = newFixError("outbound queue is full", 401, true)
	ErrSessionNotFound    = newFixError("session not found", 402, false)
	ErrDoNotSend          = newFixError("do not send", 403, false)

	// Transport related
	ErrTransportBind       = newFixError("unable to bind", 500, true)
	ErrTransportDial       = newFixError("unable to connect", 501, true)
	ErrTransportClosed     = newFixError("connection closed", 502, false)
	ErrTransportHandshake  = newFixError("TLS handshake failed", 503, false)
	ErrConnectorNotStarted = newFixError("connector not started", 504, false)

	// Application reject related
	ErrRejectLogon              = newFixError("logon rejected", 600, false)
	ErrFieldNotFound            = newFixError("required tag missing", 601, false, withReason(RejectReasonRequiredTagMissing))
	ErrIncorrectDataFormat      = newFixError("incorrect data format for value", 602, false, withReason(RejectReasonIncorrectDataFormat))
	ErrIncorrectTagValue        = newFixError("value is incorrect (out of range) for this tag", 603, false, withReason(RejectReasonValueIncorrect))
	ErrUnsupportedMessageType   = newFixError("unsupported message type", 604, false)
	ErrInvalidMessageType       = newFixError("invalid MsgType", 605, false, withReason(RejectReasonInvalidMsgType))
	ErrTagSpecifiedWithoutValue = newFixError("tag specified without a value", 606, false, withReason(RejectReasonTagSpecifiedWithoutValue))
	ErrInvalidTagNumber         = newFixError("invalid tag number", 607, false, withReason(RejectReasonInvalidTagNumber))
	ErrTagNotDefinedForMsgType  = newFixError("tag not defined for this message type", 608, false, withReason(RejectReasonTagNotDefinedForMsgType))

	// General
	ErrOperationNotSupported = newFixError("unsupported operation", 3000, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to fixError
	errUnexpected = newFixError("unexpected error", (1<<16)-1, false)
)

type errorOption func(*fixError)

func WithDetail(detail string) errorOption {
	return func(err *fixError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *fixError) {
		err.errType = etype
	}
}

func withReason(reason int) errorOption {
	return func(err *fixError) {
		err.reason = reason
	}
}

type fixError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
	// reason 为会话级 Reject 使用的 SessionRejectReason，-1 表示不适用。
	reason int
	// refTag 为触发错误的 tag，0 表示不适用。
	refTag int
}

func newFixError(msg string, code int32, retriable bool, options ...errorOption) fixError {
	err := fixError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
		reason:    rejectReasonNone,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e fixError) code() int32 {
	return e.errCode
}

func (e fixError) Error() string {
	return e.msg
}

func (e fixError) Detail() string {
	return e.detail
}

func (e fixError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(fixError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
