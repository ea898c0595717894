package main

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/router"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	zlog "github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// ExecutionReport 使用的业务字段。
const (
	tagAvgPx         fix.Tag = 6
	tagCumQty        fix.Tag = 14
	tagExecID        fix.Tag = 17
	tagExecTransType fix.Tag = 20
	tagOrderID       fix.Tag = 37
	tagOrdStatus     fix.Tag = 39
	tagExecType      fix.Tag = 150
	tagLeavesQty     fix.Tag = 151
)

const (
	execTransTypeNew = "0"
	execTypeNew      = "0"
	ordStatusNew     = "0"
)

// orderApp 记录会话生命周期，并按需以 ExecutionReport 确认收到的 NewOrderSingle。
type orderApp struct {
	session.ApplicationAdapter

	registry session.Registry
	logger   *zlog.MLogger
	router   *router.Router
	nextID   *atomic.Int64
}

func newOrderApp(registry session.Registry, logger *zlog.MLogger, ackOrders bool) *orderApp {
	a := &orderApp{
		registry: registry,
		logger:   logger,
		router:   router.New(),
		nextID:   atomic.NewInt64(0),
	}
	if ackOrders {
		a.router.MustRegister(router.AnyBeginString, fix.MsgTypeNewOrderSingle, a.onNewOrderSingle)
	}
	a.router.MustRegister(router.AnyBeginString, fix.MsgTypeExecutionReport, a.onExecutionReport)
	return a
}

func (a *orderApp) OnCreate(id session.SessionID) {
	a.logger.Info("session created", zlog.FieldSession(id))
}

func (a *orderApp) OnLogon(id session.SessionID) {
	a.logger.Info("session logged on", zlog.FieldSession(id))
}

func (a *orderApp) OnLogout(id session.SessionID) {
	a.logger.Info("session logged out", zlog.FieldSession(id))
}

func (a *orderApp) FromApp(msg *fix.Message, id session.SessionID) error {
	return a.router.Route(msg, id)
}

// onNewOrderSingle 以状态为 New 的 ExecutionReport 回应订单。
func (a *orderApp) onNewOrderSingle(msg *fix.Message, id session.SessionID) error {
	clOrdID, err := msg.Body.GetString(fix.TagClOrdID)
	if err != nil {
		return err
	}
	sess, ok := a.registry.Get(id)
	if !ok {
		return merr.WrapErrSessionNotFound(id.String())
	}
	report := newExecutionReport(msg, clOrdID, a.nextID.Inc())
	if err := sess.Send(report); err != nil {
		a.logger.Warn("send execution report failed", zlog.FieldSession(id), zap.Error(err))
		return nil
	}
	a.logger.Debug("order acknowledged", zlog.FieldSession(id), zap.String("clOrdID", clOrdID))
	return nil
}

func (a *orderApp) onExecutionReport(msg *fix.Message, id session.SessionID) error {
	clOrdID, _ := msg.Body.Get(fix.TagClOrdID)
	status, _ := msg.Body.Get(tagOrdStatus)
	a.logger.Info("execution report received", zlog.FieldSession(id),
		zap.String("clOrdID", clOrdID), zap.String("ordStatus", status))
	return nil
}

func newExecutionReport(order *fix.Message, clOrdID string, seq int64) *fix.Message {
	report := fix.NewMessage(fix.MsgTypeExecutionReport)
	report.Body.Set(tagOrderID, fmt.Sprintf("O-%d", seq))
	report.Body.Set(tagExecID, fmt.Sprintf("E-%d", seq))
	report.Body.Set(tagExecTransType, execTransTypeNew)
	report.Body.Set(tagExecType, execTypeNew)
	report.Body.Set(tagOrdStatus, ordStatusNew)
	report.Body.Set(fix.TagClOrdID, clOrdID)
	for _, tag := range []fix.Tag{fix.TagSymbol, fix.TagSide, fix.TagOrderQty} {
		if v, ok := order.Body.Get(tag); ok {
			report.Body.Set(tag, v)
		}
	}
	leaves, ok := order.Body.Get(fix.TagOrderQty)
	if !ok {
		leaves = "0"
	}
	report.Body.Set(tagLeavesQty, leaves)
	report.Body.Set(tagCumQty, "0")
	report.Body.Set(tagAvgPx, "0")
	report.Body.SetTime(fix.TagTransactTime, time.Now().UTC())
	return report
}
