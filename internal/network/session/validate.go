package session

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// verify 校验入站消息头与字段，返回的错误携带拒绝原因与引用 tag。
func (s *Session) verify(msg *fix.Message) error {
	msgType := msg.MsgType()
	if msgType == "" {
		return merr.WrapErrFieldNotFound(int(fix.TagMsgType))
	}
	if begin, _ := msg.Header.Get(fix.TagBeginString); begin != s.id.BeginString {
		return merr.WrapErrProtocolBeginString(s.id.BeginString, begin)
	}
	if err := s.verifyCompIDs(msg); err != nil {
		return err
	}
	if _, err := msg.SeqNum(); err != nil {
		return err
	}
	sendingTime, err := msg.Header.GetTime(fix.TagSendingTime)
	if err != nil {
		return err
	}
	if s.cfg.CheckLatency && s.cfg.MaxLatency > 0 {
		latency := s.now().Sub(sendingTime)
		if latency < 0 {
			latency = -latency
		}
		if latency > s.cfg.MaxLatency {
			return merr.WrapErrProtocolSendingTimeProblem(latency)
		}
	}
	if s.cfg.ValidateFieldsHaveValues {
		for _, fm := range []*fix.FieldMap{&msg.Header, &msg.Body, &msg.Trailer} {
			for _, f := range fm.Fields() {
				if f.Value == "" {
					return merr.WrapErrTagSpecifiedWithoutValue(int(f.Tag))
				}
			}
		}
	}
	if s.cfg.ValidateUserDefinedFields && fix.IsAdminMsgType(msgType) {
		for _, f := range msg.Body.Fields() {
			if fix.IsUserDefinedTag(f.Tag) {
				return merr.WrapErrTagNotDefinedForMsgType(int(f.Tag), msgType)
			}
		}
	}
	return nil
}

func (s *Session) verifyCompIDs(msg *fix.Message) error {
	checks := []struct {
		tag      fix.Tag
		expected string
		required bool
	}{
		{fix.TagSenderCompID, s.id.TargetCompID, true},
		{fix.TagTargetCompID, s.id.SenderCompID, true},
		{fix.TagSenderSubID, s.id.TargetSubID, false},
		{fix.TagTargetSubID, s.id.SenderSubID, false},
		{fix.TagSenderLocationID, s.id.TargetLocationID, false},
		{fix.TagTargetLocationID, s.id.SenderLocationID, false},
	}
	for _, c := range checks {
		if !c.required && c.expected == "" {
			continue
		}
		if got, _ := msg.Header.Get(c.tag); got != c.expected {
			return merr.WrapErrProtocolCompIDProblem(int(c.tag), c.expected, got)
		}
	}
	return nil
}

// handleVerifyError 根据校验错误回复 Reject、登出或断开连接。
func (s *Session) handleVerifyError(msg *fix.Message, cause error) error {
	switch {
	case errors.Is(cause, merr.ErrProtocolBeginString):
		s.logoutAndDisconnect("Incorrect BeginString", cause)
		return cause
	case errors.Is(cause, merr.ErrProtocolCompIDProblem):
		s.sendReject(msg, cause)
		s.logoutAndDisconnect("CompID problem", cause)
		return cause
	case errors.Is(cause, merr.ErrProtocolSendingTimeProblem):
		s.sendReject(msg, cause)
		s.logoutAndDisconnect("SendingTime accuracy problem", cause)
		return cause
	}

	seq, err := msg.SeqNum()
	if err != nil {
		s.logoutAndDisconnect("Received message without MsgSeqNum", cause)
		return cause
	}
	if _, ok := merr.RejectReason(cause); !ok {
		s.Logger().Warn("invalid inbound message", zap.Error(cause))
		return cause
	}
	s.sendReject(msg, cause)
	if s.State() == StateLogonPending {
		s.logoutAndDisconnect("Invalid logon message", cause)
		return cause
	}

	switch s.ledger.check(seq) {
	case seqInOrder:
		if err := s.ledger.advance(); err != nil {
			return err
		}
		return s.drainQueue()
	case seqGap:
		s.ledger.enqueue(seq, nil)
		s.requestResend(seq)
	}
	return nil
}
