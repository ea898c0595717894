package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// onMessage 为入站消息的入口。
func (s *Session) onMessage(msg *fix.Message) error {
	s.lastReceived = s.now()
	s.testRequestSentAt = time.Time{}

	msgType := msg.MsgType()
	switch state := s.State(); {
	case state == StateDisconnected:
		return nil
	case msgType == fix.MsgTypeLogon && state == StateLogonPending:
		return s.handleLogon(msg)
	case state == StateLogonPending:
		err := merr.WrapErrProtocolFirstNotLogon(msgType)
		s.Logger().Warn("first message is not logon", log.FieldMsgType(msgType))
		s.disconnect(err)
		return err
	}
	return s.processInbound(msg)
}

// processInbound 校验消息并按序号决定立即处理、缓存还是丢弃。
func (s *Session) processInbound(msg *fix.Message) error {
	if err := s.verify(msg); err != nil {
		return s.handleVerifyError(msg, err)
	}
	seq, _ := msg.SeqNum()
	msgType := msg.MsgType()

	// Reset 模式的 SequenceReset 忽略 MsgSeqNum。
	if msgType == fix.MsgTypeSequenceReset && !msg.Body.BoolOr(fix.TagGapFillFlag, false) {
		if err := s.handleSequenceReset(msg, false); err != nil {
			return err
		}
		return s.drainQueue()
	}

	switch s.ledger.check(seq) {
	case seqTooLow:
		return s.handleSeqTooLow(msg, seq)
	case seqGap:
		s.Logger().Info("sequence gap detected",
			zap.Int("expected", s.ledger.expected()),
			log.FieldSeqNum(seq),
			log.FieldMsgType(msgType))
		if msgType == fix.MsgTypeLogout {
			// Logout 不因缺口排队，立即应答并断开，期望序号保持不变。
			if err := s.app.FromAdmin(msg, s.id); err != nil {
				s.Logger().Warn("admin message callback failed", log.FieldMsgType(msgType), zap.Error(err))
			}
			return s.acceptLogout()
		}
		if msgType == fix.MsgTypeResendRequest {
			// 双方同时存在缺口时，先响应对端的 ResendRequest，避免互相等待。
			if err := s.handleResendRequest(msg); err != nil {
				return err
			}
			s.ledger.enqueue(seq, nil)
		} else {
			s.ledger.enqueue(seq, msg)
		}
		s.requestResend(seq)
		return nil
	}

	if err := s.dispatch(msg); err != nil {
		return err
	}
	return s.drainQueue()
}

// dispatch 处理一条序号等于期望值的消息，并推进期望序号。
func (s *Session) dispatch(msg *fix.Message) error {
	msgType := msg.MsgType()
	if !fix.IsAdminMsgType(msgType) {
		return s.dispatchApp(msg)
	}

	if err := s.app.FromAdmin(msg, s.id); err != nil {
		if _, ok := merr.RejectReason(err); ok {
			s.sendReject(msg, err)
		} else {
			s.Logger().Warn("admin message callback failed", log.FieldMsgType(msgType), zap.Error(err))
		}
	}

	switch msgType {
	case fix.MsgTypeHeartbeat:
		if id, ok := msg.Body.Get(fix.TagTestReqID); ok && id == s.testRequestID {
			s.testRequestID = ""
		}
	case fix.MsgTypeTestRequest:
		id, _ := msg.Body.Get(fix.TagTestReqID)
		if err := s.Send(s.newHeartbeat(id)); err != nil {
			s.Logger().Warn("failed to answer test request", zap.Error(err))
		}
	case fix.MsgTypeResendRequest:
		if err := s.handleResendRequest(msg); err != nil {
			return err
		}
	case fix.MsgTypeSequenceReset:
		return s.handleSequenceReset(msg, true)
	case fix.MsgTypeLogout:
		return s.handleLogout()
	case fix.MsgTypeReject:
		text, _ := msg.Body.Get(fix.TagText)
		s.Logger().Warn("received session reject", zap.String("text", text))
	case fix.MsgTypeLogon:
		s.Logger().Warn("ignoring logon on an established session")
	}
	return s.ledger.advance()
}

func (s *Session) dispatchApp(msg *fix.Message) error {
	if err := s.app.FromApp(msg, s.id); err != nil {
		switch {
		case errors.Is(err, merr.ErrUnsupportedMessageType) && s.atLeastFIX42():
			s.Logger().Warn("unsupported message type", log.FieldMsgType(msg.MsgType()))
			if sendErr := s.Send(s.newBusinessReject(msg, err)); sendErr != nil {
				s.Logger().Warn("failed to send business reject", zap.Error(sendErr))
			}
		case errors.Is(err, merr.ErrUnsupportedMessageType):
			s.sendReject(msg, merr.WrapErrInvalidMessageType(msg.MsgType()))
		default:
			if _, ok := merr.RejectReason(err); ok {
				s.sendReject(msg, err)
			} else {
				s.Logger().Warn("application callback failed", log.FieldMsgType(msg.MsgType()), zap.Error(err))
			}
		}
	}
	return s.ledger.advance()
}

// drainQueue 依次处理缓存中已经连续的消息，并在缺口补齐后检查是否还有新的缺口。
func (s *Session) drainQueue() error {
	for s.State().IsConnected() {
		if s.ledger.settleResend() {
			s.Logger().Info("resend request satisfied", zap.Int("expected", s.ledger.expected()))
		}
		msg, ok := s.ledger.dequeue()
		if !ok {
			break
		}
		if msg == nil {
			if err := s.ledger.advance(); err != nil {
				return err
			}
			continue
		}
		if err := s.dispatch(msg); err != nil {
			return err
		}
	}

	if s.State().IsConnected() && !s.ledger.resendInProgress() && s.ledger.queued() > 0 {
		seqs := make([]int, 0, s.ledger.queued())
		for seq := range s.ledger.queue {
			seqs = append(seqs, seq)
		}
		sort.Ints(seqs)
		s.requestResend(seqs[0])
	}
	return nil
}

// requestResend 为 [expected, seq-1] 发出 ResendRequest，已有未完成的请求时不重复发送。
func (s *Session) requestResend(seq int) {
	if s.ledger.resendInProgress() {
		s.Logger().Debug("resend request already in progress", log.FieldSeqNum(seq))
		return
	}
	begin, end := s.ledger.expected(), seq-1
	s.ledger.beginResend(begin, end, s.now())
	s.sendResendRequest(begin, end)
}

func (s *Session) handleSeqTooLow(msg *fix.Message, seq int) error {
	if msg.IsPossDup() {
		if msg.MsgType() != fix.MsgTypeSequenceReset {
			orig, origErr := msg.Header.GetTime(fix.TagOrigSendingTime)
			sending, sendingErr := msg.Header.GetTime(fix.TagSendingTime)
			if origErr == nil && sendingErr == nil && orig.After(sending) {
				s.sendReject(msg, merr.WrapErrProtocolSendingTimeProblem(orig.Sub(sending)))
				s.logoutAndDisconnect("OrigSendingTime later than SendingTime", merr.ErrProtocolSendingTimeProblem)
				return nil
			}
		}
		s.Logger().Debug("ignoring duplicate message", log.FieldSeqNum(seq), log.FieldMsgType(msg.MsgType()))
		return nil
	}

	expected := s.ledger.expected()
	err := merr.WrapErrProtocolSeqNumTooLow(expected, seq)
	s.Logger().Warn("sequence number too low", zap.Int("expected", expected), log.FieldSeqNum(seq))
	s.logoutAndDisconnect(fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d", expected, seq), err)
	return err
}

// handleSequenceReset 处理 SequenceReset。inSequence 为 true 表示 GapFill 模式且序号连续。
func (s *Session) handleSequenceReset(msg *fix.Message, inSequence bool) error {
	if !inSequence {
		if err := s.app.FromAdmin(msg, s.id); err != nil {
			s.Logger().Warn("admin message callback failed", log.FieldMsgType(msg.MsgType()), zap.Error(err))
		}
	}

	newSeqNo, err := msg.Body.GetInt(fix.TagNewSeqNo)
	if err != nil {
		s.sendReject(msg, err)
		if inSequence {
			return s.ledger.advance()
		}
		return nil
	}

	expected := s.ledger.expected()
	switch {
	case newSeqNo > expected:
		s.Logger().Info("sequence reset",
			zap.Bool("gapFill", inSequence),
			zap.Int("expected", expected),
			zap.Int("newSeqNo", newSeqNo))
		return s.ledger.skipTo(newSeqNo)
	case newSeqNo < expected:
		cause := merr.WrapErrIncorrectTagValue(int(fix.TagNewSeqNo), fmt.Sprint(newSeqNo))
		s.Logger().Warn("sequence reset attempted to decrease sequence number",
			zap.Error(merr.WrapErrProtocolInvalidSeqReset(expected, newSeqNo)))
		s.sendReject(msg, cause)
		if inSequence {
			return s.ledger.advance()
		}
	}
	return nil
}

func (s *Session) handleLogout() error {
	if err := s.ledger.advance(); err != nil {
		return err
	}
	return s.acceptLogout()
}

// acceptLogout 在本端尚未发出 Logout 时先应答，随后断开连接。
func (s *Session) acceptLogout() error {
	if s.State() == StateLogoutPending {
		s.Logger().Info("received logout response")
	} else {
		s.Logger().Info("received logout request")
		if err := s.Send(s.newLogout("")); err != nil {
			s.Logger().Warn("failed to answer logout", zap.Error(err))
		}
	}
	s.disconnect(nil)
	if s.cfg.ResetOnLogout {
		return s.store.Reset()
	}
	return nil
}

func (s *Session) handleLogon(msg *fix.Message) error {
	if err := s.verify(msg); err != nil {
		return s.handleVerifyError(msg, err)
	}
	if !s.cfg.Initiator && !s.IsEnabled() {
		s.logoutAndDisconnect("Logon attempt not enabled", errors.Newf("session %s is not enabled for logon", s.id))
		return nil
	}
	now := s.now()
	if !s.cfg.Initiator && !s.cfg.Schedule.IsSessionTime(now) {
		s.logoutAndDisconnect("Logon attempt not within session time", merr.ErrProtocolOutsideSchedule)
		return nil
	}

	heartBtInt, err := msg.Body.GetInt(fix.TagHeartBtInt)
	if err != nil || heartBtInt < 0 {
		if err == nil {
			err = merr.WrapErrIncorrectTagValue(int(fix.TagHeartBtInt), fmt.Sprint(heartBtInt))
		}
		s.sendReject(msg, err)
		s.logoutAndDisconnect("Invalid HeartBtInt", err)
		return err
	}

	resetSeqNum := msg.Body.BoolOr(fix.TagResetSeqNumFlag, false)
	if !s.cfg.Initiator && (resetSeqNum || s.cfg.ResetOnLogon) {
		s.Logger().Info("resetting sequence numbers on logon", zap.Bool("requested", resetSeqNum))
		if err := s.store.Reset(); err != nil {
			return err
		}
		s.ledger.clear()
		s.sentResetSeqNum = true
	} else if s.cfg.Initiator && resetSeqNum && !s.sentResetSeqNum {
		s.Logger().Info("counterparty reset sequence numbers")
		if err := s.store.SetNextTargetMsgSeqNum(1); err != nil {
			return err
		}
		s.ledger.clear()
	}

	if err := s.app.FromAdmin(msg, s.id); err != nil {
		s.Logger().Warn("logon rejected", zap.Error(err))
		text := "Logon rejected"
		if errors.Is(err, merr.ErrRejectLogon) {
			text = errors.Cause(err).Error()
		}
		s.logoutAndDisconnect(text, err)
		return nil
	}

	seq, _ := msg.SeqNum()
	verdict := s.ledger.check(seq)
	if verdict == seqTooLow {
		return s.handleSeqTooLow(msg, seq)
	}

	if !s.cfg.Initiator {
		s.heartBtInt = time.Duration(heartBtInt) * time.Second
		if err := s.Send(s.newLogon(s.sentResetSeqNum)); err != nil {
			s.disconnect(err)
			return err
		}
	}

	s.setState(StateLoggedOn)
	s.loggedOn = true
	s.Logger().Info("session logged on",
		zap.Bool("initiator", s.cfg.Initiator),
		zap.Duration("heartBtInt", s.heartBtInt))
	s.app.OnLogon(s.id)

	switch verdict {
	case seqInOrder:
		if err := s.ledger.advance(); err != nil {
			return err
		}
	case seqGap:
		s.ledger.enqueue(seq, nil)
		s.requestResend(seq)
	}
	return s.drainQueue()
}
