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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case fixError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := errors.Cause(err).(fixError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// IsFramingErr 判断错误是否属于分帧类错误（100~199）。
func IsFramingErr(err error) bool {
	code := Code(err)
	return code >= 100 && code < 200
}

// IsConfigErr 判断错误是否属于配置类错误（300~399）。
func IsConfigErr(err error) bool {
	code := Code(err)
	return code >= 300 && code < 400
}

// RejectReason 返回错误对应的 SessionRejectReason（tag 373）。
// 当错误不携带拒绝原因时，ok 为 false。
func RejectReason(err error) (reason int, ok bool) {
	if cause, isFix := errors.Cause(err).(fixError); isFix && cause.reason != rejectReasonNone {
		return cause.reason, true
	}
	return 0, false
}

// RefTagID 返回触发错误的 tag（tag 371），不存在时返回 0。
func RefTagID(err error) int {
	if cause, ok := errors.Cause(err).(fixError); ok {
		return cause.refTag
	}
	return 0
}

func GetErrorType(err error) ErrorType {
	if merr, ok := errors.Cause(err).(fixError); ok {
		return merr.errType
	}

	return SystemError
}

func WrapErrAsInputError(err error) error {
	if merr, ok := err.(fixError); ok {
		WithErrorType(InputError)(&merr)
		return merr
	}
	return err
}

// 分帧相关错误封装。
func WrapErrFramingGarbled(skip int, msg ...string) error {
	return withMsg(wrapFields(ErrFramingGarbled, value("skip", skip)), msg)
}

func WrapErrFramingBodyLength(declared, actual int) error {
	return wrapFields(ErrFramingBodyLength, value("declared", declared), value("actual", actual))
}

func WrapErrFramingChecksum(declared, computed int) error {
	return wrapFields(ErrFramingChecksum, value("declared", declared), value("computed", computed))
}

func WrapErrFramingTooLarge(size, limit int) error {
	return wrapFields(ErrFramingTooLarge, value("size", size), value("limit", limit))
}

func WrapErrFramingMalformedTag(field string) error {
	return wrapFields(ErrFramingMalformedTag, value("field", field))
}

// 协议相关错误封装。
func WrapErrProtocolSeqNumTooLow(expected, received int) error {
	return wrapFields(ErrProtocolSeqNumTooLow, value("expected", expected), value("received", received))
}

func WrapErrProtocolFirstNotLogon(msgType string) error {
	return wrapFields(ErrProtocolFirstNotLogon, value("msgType", msgType))
}

func WrapErrProtocolUnknownSession(sessionID string) error {
	return wrapFields(ErrProtocolUnknownSession, value("session", sessionID))
}

func WrapErrProtocolBeginString(expected, received string) error {
	return wrapFields(ErrProtocolBeginString, value("expected", expected), value("received", received))
}

func WrapErrProtocolResendExhausted(begin, end, attempts int) error {
	return wrapFields(ErrProtocolResendExhausted, value("begin", begin), value("end", end), value("attempts", attempts))
}

func WrapErrProtocolSessionBusy(sessionID string) error {
	return wrapFields(ErrProtocolSessionBusy, value("session", sessionID))
}

func WrapErrProtocolInvalidSeqReset(expected, newSeqNo int) error {
	err := wrapFields(ErrProtocolInvalidSeqReset, value("expected", expected), value("newSeqNo", newSeqNo))
	return err
}

func WrapErrProtocolCompIDProblem(tag int, expected, received string) error {
	err := ErrProtocolCompIDProblem
	err.refTag = tag
	return wrapFields(err, value("expected", expected), value("received", received))
}

func WrapErrProtocolSendingTimeProblem(latency fmt.Stringer) error {
	err := ErrProtocolSendingTimeProblem
	err.refTag = 52
	return wrapFields(err, value("latency", latency))
}

// 配置相关错误封装。
func WrapErrConfigInvalid[T any](key string, actual T, msg ...string) error {
	return withMsg(wrapFields(ErrConfigInvalid, value(key, actual)), msg)
}

func WrapErrConfigMissing(key string, section string) error {
	return wrapFields(ErrConfigMissing, value("key", key), value("section", section))
}

func WrapErrConfigUnknownProtocol(name string) error {
	return wrapFields(ErrConfigUnknownProtocol, value("protocol", name))
}

func WrapErrConfigDuplicateSession(sessionID string) error {
	return wrapFields(ErrConfigDuplicateSession, value("session", sessionID))
}

func WrapErrConfigKeyStore(path string, err error) error {
	return wrapFieldsWithDesc(ErrConfigKeyStore, err.Error(), value("path", path))
}

// 发送相关错误封装。
func WrapErrSessionNotLoggedOn(sessionID string) error {
	return wrapFields(ErrSessionNotLoggedOn, value("session", sessionID))
}

func WrapErrOutboundQueueFull(sessionID string, capacity int) error {
	return wrapFields(ErrOutboundQueueFull, value("session", sessionID), value("capacity", capacity))
}

func WrapErrSessionNotFound(sessionID string) error {
	return wrapFields(ErrSessionNotFound, value("session", sessionID))
}

// 传输相关错误封装。
func WrapErrTransportBind(addr string, err error) error {
	return wrapFieldsWithDesc(ErrTransportBind, err.Error(), value("addr", addr))
}

func WrapErrTransportDial(addr string, err error) error {
	return wrapFieldsWithDesc(ErrTransportDial, err.Error(), value("addr", addr))
}

func WrapErrTransportHandshake(remote string, err error) error {
	return wrapFieldsWithDesc(ErrTransportHandshake, err.Error(), value("remote", remote))
}

// 应用层拒绝相关错误封装。
func WrapErrRejectLogon(reason string) error {
	return wrapFieldsWithDesc(ErrRejectLogon, reason)
}

func WrapErrFieldNotFound(tag int) error {
	err := ErrFieldNotFound
	err.refTag = tag
	return wrapFields(err, value("tag", tag))
}

func WrapErrIncorrectDataFormat(tag int, raw string) error {
	err := ErrIncorrectDataFormat
	err.refTag = tag
	return wrapFields(err, value("tag", tag), value("value", raw))
}

func WrapErrIncorrectTagValue(tag int, raw string) error {
	err := ErrIncorrectTagValue
	err.refTag = tag
	return wrapFields(err, value("tag", tag), value("value", raw))
}

func WrapErrTagSpecifiedWithoutValue(tag int) error {
	err := ErrTagSpecifiedWithoutValue
	err.refTag = tag
	return wrapFields(err, value("tag", tag))
}

func WrapErrInvalidTagNumber(tag int) error {
	err := ErrInvalidTagNumber
	err.refTag = tag
	return wrapFields(err, value("tag", tag))
}

func WrapErrTagNotDefinedForMsgType(tag int, msgType string) error {
	err := ErrTagNotDefinedForMsgType
	err.refTag = tag
	return wrapFields(err, value("tag", tag), value("msgType", msgType))
}

func WrapErrUnsupportedMessageType(msgType string) error {
	err := ErrUnsupportedMessageType
	err.refTag = 35
	return wrapFields(err, value("msgType", msgType))
}

func WrapErrInvalidMessageType(msgType string) error {
	err := ErrInvalidMessageType
	err.refTag = 35
	return wrapFields(err, value("msgType", msgType))
}

func WrapErrOperationNotSupported(op string, msg ...string) error {
	return withMsg(wrapFields(ErrOperationNotSupported, value("op", op)), msg)
}

func withMsg(err error, msg []string) error {
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func wrapFields(err fixError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err fixError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}
