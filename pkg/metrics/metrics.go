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

package metrics

import (
	// #nosec
	_ "net/http/pprof"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// fixNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	fixNamespace = "fixgarden"

	sessionSubsystem   = "session"
	connectorSubsystem = "connector"

	// 以下为当前使用的通用标签名。
	sessionIDLabelName = "session_id"
	msgTypeLabelName   = "msg_type"
	roleLabelName      = "role"
	reasonLabelName    = "reason"
	strategyLabelName  = "strategy"
)

var (
	// buckets 为处理耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [0.05 0.1 0.2 0.4 0.8 1.6 3.2 6.4 12.8 25.6 51.2 102.4 204.8 409.6 819.2 1638.4]
	buckets = prometheus.ExponentialBuckets(0.05, 2, 16)

	// sizeBuckets 为消息大小的桶划分，单位为字节。
	sizeBuckets = []float64{64, 128, 256, 512, 1024, 4096, 16384, 65536, 262144, 1048576}

	InboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: fixNamespace,
			Subsystem: sessionSubsystem,
			Name:      "inbound_messages_total",
			Help:      "按会话与消息类型统计的入站消息数",
		}, []string{sessionIDLabelName, msgTypeLabelName})

	OutboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: fixNamespace,
			Subsystem: sessionSubsystem,
			Name:      "outbound_messages_total",
			Help:      "按会话与消息类型统计的出站消息数",
		}, []string{sessionIDLabelName, msgTypeLabelName})

	OutboundMessageSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: fixNamespace,
			Subsystem: sessionSubsystem,
			Name:      "outbound_message_bytes",
			Help:      "出站消息编码后的字节数",
			Buckets:   sizeBuckets,
		})

	SessionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: fixNamespace,
			Subsystem: sessionSubsystem,
			Name:      "state",
			Help:      "会话当前状态：0 Disconnected，1 LogonPending，2 LoggedOn，3 LogoutPending",
		}, []string{sessionIDLabelName})

	ResendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: fixNamespace,
			Subsystem: sessionSubsystem,
			Name:      "resend_requests_total",
			Help:      "因序号缺口发出的 ResendRequest 数",
		}, []string{sessionIDLabelName})

	Rejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: fixNamespace,
			Subsystem: sessionSubsystem,
			Name:      "rejects_total",
			Help:      "发出的会话层 Reject 数",
		}, []string{sessionIDLabelName, reasonLabelName})

	Disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: fixNamespace,
			Subsystem: sessionSubsystem,
			Name:      "disconnects_total",
			Help:      "会话断开次数",
		}, []string{sessionIDLabelName})

	ProcessLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: fixNamespace,
			Subsystem: sessionSubsystem,
			Name:      "process_latency_ms",
			Help:      "单条入站消息的处理耗时，单位毫秒",
			Buckets:   buckets,
		}, []string{msgTypeLabelName})

	FramingErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: fixNamespace,
			Subsystem: connectorSubsystem,
			Name:      "framing_errors_total",
			Help:      "分帧或解码失败而被丢弃的数据次数",
		}, []string{roleLabelName})

	Connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: fixNamespace,
			Subsystem: connectorSubsystem,
			Name:      "connections",
			Help:      "当前活动的传输连接数",
		}, []string{roleLabelName})

	RegisteredSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: fixNamespace,
			Subsystem: connectorSubsystem,
			Name:      "registered_sessions",
			Help:      "当前注册的会话数",
		}, []string{roleLabelName})

	LiveProcessors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: fixNamespace,
			Subsystem: connectorSubsystem,
			Name:      "live_processors",
			Help:      "当前运行中的消息处理协程数",
		}, []string{strategyLabelName})

	metricRegisterer prometheus.Registerer
	registerOnce     sync.Once
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，只有第一次调用生效。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(InboundMessages)
		r.MustRegister(OutboundMessages)
		r.MustRegister(OutboundMessageSize)
		r.MustRegister(SessionState)
		r.MustRegister(ResendRequests)
		r.MustRegister(Rejects)
		r.MustRegister(Disconnects)
		r.MustRegister(ProcessLatency)
		r.MustRegister(FramingErrors)
		r.MustRegister(Connections)
		r.MustRegister(RegisteredSessions)
		r.MustRegister(LiveProcessors)
		metricRegisterer = r
	})
}
