// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
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
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// DefaultRegistry 全局 Registry，供各守护进程注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		QueueDepth, ClaimLatencySeconds, ClaimTotal,
		EventAppendTotal, EventStoreCursor,
		StaleRecoveredTotal,
		MergePhaseDurationSeconds, MergeOutcomeTotal,
		SessionSubscribersGauge,
	)
}

// QueueDepth Pending/Claimed 条目数（按 queue、status）
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "corehub_queue_depth",
		Help: "队列当前条目数（按队列与状态）",
	},
	[]string{"queue", "status"}, // queue: requests|jobs|completions|merge_jobs
)

// ClaimLatencySeconds claim 调用耗时（秒）
var ClaimLatencySeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "corehub_claim_latency_seconds",
		Help:    "claim 操作耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"queue"},
)

// ClaimTotal claim 调用次数（按是否取到条目）
var ClaimTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corehub_claim_total",
		Help: "claim 调用次数",
	},
	[]string{"queue", "result"}, // result: hit | empty
)

// EventAppendTotal append 调用次数（按事件 kind）
var EventAppendTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corehub_event_append_total",
		Help: "事件追加次数",
	},
	[]string{"kind"},
)

// EventStoreCursor 事件存储当前全局游标值
var EventStoreCursor = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "corehub_event_store_cursor",
		Help: "事件存储当前游标值",
	},
)

// StaleRecoveredTotal 陈旧认领回收数量（按 queue）
var StaleRecoveredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corehub_stale_recovered_total",
		Help: "陈旧认领回收数量",
	},
	[]string{"queue"},
)

// MergePhaseDurationSeconds 合并流水线各阶段耗时（秒）
var MergePhaseDurationSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "corehub_merge_phase_duration_seconds",
		Help:    "合并流水线各阶段耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"phase"},
)

// MergeOutcomeTotal 合并流水线终态计数
var MergeOutcomeTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "corehub_merge_outcome_total",
		Help: "合并流水线终态计数",
	},
	[]string{"outcome"}, // success | failed | skipped | requeued
)

// SessionSubscribersGauge 当前活跃订阅数（按 session）
var SessionSubscribersGauge = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "corehub_session_subscribers",
		Help: "当前活跃的事件订阅数",
	},
	[]string{"session_id"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w，供 HTTP /system/metrics 复用
func WritePrometheus(w io.Writer) error {
	mfs, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
