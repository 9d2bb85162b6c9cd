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

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体，各守护进程按需加载其中一部分
type Config struct {
	API           APIConfig           `mapstructure:"api"`
	EventStore    EventStoreConfig    `mapstructure:"event_store"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	WorkerReg     WorkerRegistryConfig `mapstructure:"worker_registry"`
	MergePipeline MergePipelineConfig `mapstructure:"merge_pipeline"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	Log           LogConfig           `mapstructure:"log"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// APIConfig 协调核心 HTTP 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	AuthToken  string           `mapstructure:"auth_token"` // 非空时要求 Bearer token
	CORS       CORSConfig       `mapstructure:"cors"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// EventStoreConfig 事件存储配置
type EventStoreConfig struct {
	Type         string     `mapstructure:"type"` // memory | sqlite
	DSN          string     `mapstructure:"dsn"`  // type=sqlite 时为数据库文件路径
	DefaultLimit int        `mapstructure:"default_limit"`
	MaxLimit     int        `mapstructure:"max_limit"`
	GC           GCConfig   `mapstructure:"gc"`
}

// GCConfig 事件日志压缩清理配置
type GCConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	TTL       string `mapstructure:"ttl"`        // 如 "720h"
	BatchSize int    `mapstructure:"batch_size"` // 每轮最多删除的行数
	Interval  string `mapstructure:"interval"`   // 扫描间隔，如 "1h"
}

// QueueConfig 队列引擎（Requests/Jobs/Completions/MergeJobs 共用持久化层）配置
type QueueConfig struct {
	Type        string `mapstructure:"type"` // memory | sqlite
	DSN         string `mapstructure:"dsn"`
	BusyTimeout string `mapstructure:"busy_timeout"` // SQLite busy_timeout，默认 5s
}

// SchedulerConfig 调度与 SLO 配置
type SchedulerConfig struct {
	SlotMs             SlotMsConfig `mapstructure:"slot_ms"`
	QueueWaitBudgetMs  BudgetMsByTier `mapstructure:"queue_wait_budget_ms"`
	DefaultExecBudgetMs int64 `mapstructure:"default_exec_budget_ms"`
	DefaultFinalizeBudgetMs int64 `mapstructure:"default_finalize_budget_ms"`
	StaleRecovery      StaleRecoveryConfig `mapstructure:"stale_recovery"`
	ClaimRateLimit     ClaimRateLimitConfig `mapstructure:"claim_rate_limit"`
	SLOWindow          string `mapstructure:"slo_window"` // 如 "24h"
}

// SlotMsConfig 每个优先级梯队的 ETA 槽宽（毫秒）
type SlotMsConfig struct {
	Interactive int64 `mapstructure:"interactive"`
	Normal      int64 `mapstructure:"normal"`
	Background  int64 `mapstructure:"background"`
}

// BudgetMsByTier 按优先级梯队的排队等待预算（毫秒）
type BudgetMsByTier struct {
	Interactive int64 `mapstructure:"interactive"`
	Normal      int64 `mapstructure:"normal"`
	Background  int64 `mapstructure:"background"`
}

// StaleRecoveryConfig 陈旧认领回收扫描配置
type StaleRecoveryConfig struct {
	TTL      string `mapstructure:"ttl"`      // 默认 90s
	Interval string `mapstructure:"interval"` // 扫描间隔，默认 15s
	Limit    int    `mapstructure:"limit"`    // 每轮最多回收数，<=0 默认 500
}

// ClaimRateLimitConfig 单 Worker claim 轮询限流
type ClaimRateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	QPS     float64 `mapstructure:"qps"`
	Burst   int     `mapstructure:"burst"`
}

// WorkerRegistryConfig Worker 心跳在线判定配置
type WorkerRegistryConfig struct {
	HeartbeatTTL string `mapstructure:"heartbeat_ttl"` // 默认 15s
}

// MergePipelineConfig 合并守护进程配置
type MergePipelineConfig struct {
	RepoPath          string   `mapstructure:"repo_path"`
	Remote            string   `mapstructure:"remote"`
	MainBranch        string   `mapstructure:"main_branch"`
	BranchPrefix      string   `mapstructure:"branch_prefix"`
	StateDir          string   `mapstructure:"state_dir"`
	IntervalSeconds   int      `mapstructure:"interval_seconds"`
	MergeStrategy     string   `mapstructure:"merge_strategy"` // ff-only | no-ff | cherry-pick
	Checks            []string `mapstructure:"checks"`
	CheckTimeout      string   `mapstructure:"check_timeout"`      // 默认 5m
	DeleteAfterMerge  bool     `mapstructure:"delete_after_merge"`
	PushMainAfterMerge bool    `mapstructure:"push_main_after_merge"`
	PushAgentBranch   bool     `mapstructure:"push_agent_branch"`
	SkipCleanCheck    bool     `mapstructure:"skip_clean_check"`
	AutoCreateMain    bool     `mapstructure:"auto_create_main_branch"`
	DryRun            bool     `mapstructure:"dry_run"`
	MaxAttempts       int      `mapstructure:"max_attempts"`
	CompletionSource  string   `mapstructure:"completion_source"` // queue | poll
	PollInterval      string   `mapstructure:"poll_interval"`     // completion_source=poll 时轮询间隔
}

// WorkerConfig Worker 守护进程配置
type WorkerConfig struct {
	ID           string   `mapstructure:"id"`
	QueueClass   string   `mapstructure:"queue_class"`
	PollInterval string   `mapstructure:"poll_interval"` // 默认 2s
	Capabilities []string `mapstructure:"capabilities"`
	HeartbeatTTL string   `mapstructure:"heartbeat_ttl"` // 默认 10s，需 < registry.heartbeat_ttl
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// Default 返回带默认值的配置，供 cmd/* 在未提供配置文件时使用
func Default() *Config {
	return &Config{
		API: APIConfig{Port: 8080, Host: "0.0.0.0", Timeout: "30s"},
		EventStore: EventStoreConfig{
			Type: "memory", DefaultLimit: 1000, MaxLimit: 10000,
		},
		Queue: QueueConfig{Type: "memory", BusyTimeout: "5s"},
		Scheduler: SchedulerConfig{
			SlotMs:              SlotMsConfig{Interactive: 20000, Normal: 90000, Background: 240000},
			QueueWaitBudgetMs:   BudgetMsByTier{Interactive: 20000, Normal: 90000, Background: 240000},
			DefaultExecBudgetMs: 300000,
			DefaultFinalizeBudgetMs: 60000,
			StaleRecovery:       StaleRecoveryConfig{TTL: "90s", Interval: "15s", Limit: 500},
			SLOWindow:           "24h",
		},
		WorkerReg: WorkerRegistryConfig{HeartbeatTTL: "15s"},
		MergePipeline: MergePipelineConfig{
			MainBranch: "main", BranchPrefix: "pushpals/agent",
			MergeStrategy: "no-ff", CheckTimeout: "5m", MaxAttempts: 10,
			CompletionSource: "queue",
		},
		Worker: WorkerConfig{PollInterval: "2s", HeartbeatTTL: "10s"},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load 从文件加载配置，叠加环境变量覆盖（PUSHCORE_ 前缀，"." 替换为 "_"）
func Load(configPath string) (*Config, error) {
	v := viper.New()
	cfg := Default()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}
	v.SetEnvPrefix("PUSHCORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}
	return cfg, nil
}
