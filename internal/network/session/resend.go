package session

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
)

// handleResendRequest 补发 [BeginSeqNo, EndSeqNo] 范围内的消息。
//
// 业务消息以 PossDupFlag=Y 原序号补发；管理消息、未持久化的序号以及 ToApp
// 返回 ErrDoNotSend 的消息合并为 SequenceReset-GapFill。补发不占用新的出站序号。
func (s *Session) handleResendRequest(msg *fix.Message) error {
	begin, err := msg.Body.GetInt(fix.TagBeginSeqNo)
	if err != nil {
		s.sendReject(msg, err)
		return nil
	}
	end, err := msg.Body.GetInt(fix.TagEndSeqNo)
	if err != nil {
		s.sendReject(msg, err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.store.NextSenderMsgSeqNum()
	if end == 0 || end >= next {
		end = next - 1
	}
	if begin < 1 {
		begin = 1
	}
	s.Logger().Info("received resend request", zap.Int("begin", begin), zap.Int("end", end))
	if begin > end {
		return nil
	}

	stored, err := s.store.Get(begin, end)
	if err != nil {
		return err
	}
	bySeq := make(map[int][]byte, len(stored))
	for _, m := range stored {
		bySeq[m.SeqNum] = m.Raw
	}

	gapStart := 0
	for seq := begin; seq <= end; seq++ {
		resend := s.prepareResend(bySeq[seq], seq)
		if resend == nil {
			if gapStart == 0 {
				gapStart = seq
			}
			continue
		}
		if gapStart != 0 {
			if err := s.sendGapFillLocked(gapStart, seq); err != nil {
				return err
			}
			gapStart = 0
		}
		raw, err := s.codec.Encode(resend)
		if err != nil {
			return err
		}
		if err := s.writeLocked(resend.MsgType(), raw, s.now()); err != nil {
			return err
		}
	}
	if gapStart != 0 {
		return s.sendGapFillLocked(gapStart, end+1)
	}
	return nil
}

// prepareResend 解码已持久化的消息并改写为补发形式，需要以 GapFill 代替时返回 nil。
func (s *Session) prepareResend(raw []byte, seq int) *fix.Message {
	if raw == nil {
		return nil
	}
	msg, err := s.codec.DecodeFrame(raw)
	if err != nil {
		s.Logger().Warn("stored message is corrupted", log.FieldSeqNum(seq), zap.Error(err))
		return nil
	}
	if msg.IsAdmin() {
		return nil
	}
	if orig, ok := msg.Header.Get(fix.TagSendingTime); ok {
		msg.Header.Set(fix.TagOrigSendingTime, orig)
	}
	msg.Header.SetBool(fix.TagPossDupFlag, true)
	msg.Header.SetTime(fix.TagSendingTime, s.now())
	if err := s.app.ToApp(msg, s.id); err != nil {
		s.Logger().Debug("message skipped on resend", log.FieldSeqNum(seq), zap.Error(err))
		return nil
	}
	return msg
}

// sendGapFillLocked 以 MsgSeqNum=seq 发送 SequenceReset-GapFill，调用方需持有 mu。
func (s *Session) sendGapFillLocked(seq, newSeqNo int) error {
	now := s.now()
	msg := s.newGapFill(newSeqNo)
	s.fillHeader(msg, seq, now)
	msg.Header.SetBool(fix.TagPossDupFlag, true)
	msg.Header.SetTime(fix.TagOrigSendingTime, now)
	s.app.ToAdmin(msg, s.id)
	raw, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	s.Logger().Debug("sending gap fill", log.FieldSeqNum(seq), zap.Int("newSeqNo", newSeqNo))
	return s.writeLocked(msg.MsgType(), raw, now)
}
