package config

import "github.com/Xushengqwer/go-common/config"

// AppConfig 是整个风控决策服务的配置结构体
type AppConfig struct {
	ZapConfig     config.ZapConfig `mapstructure:"zapConfig" json:"zapConfig" yaml:"zapConfig"`
	Kafka         KafkaConfig      `mapstructure:"kafka"`
	AuditPlatform string           `mapstructure:"audit_platform"` // 远程内容审核平台: "" / "local" 表示只用本地规则, "aliyun" 表示叠加阿里云审核
	AliyunAudit   AliyunConfig     `mapstructure:"aliyun_audit"`
	Moderation    ModerationConfig `mapstructure:"moderation"` // 内容审核策略
	RiskGate      RiskGateConfig   `mapstructure:"risk_gate"`  // 行动计划风险闸门策略
	Audit         AuditConfig      `mapstructure:"audit"`      // 安全审计事件的输出位置
	Metrics       MetricsConfig    `mapstructure:"metrics"`
}

// AuditConfig 决定安全事件写到哪里。
type AuditConfig struct {
	Sinks       []string `mapstructure:"sinks"`        // 可选 "kafka", "sqlite"; 为空时事件只写本地日志
	JournalPath string   `mapstructure:"journal_path"` // sqlite 审计日志文件路径
}

// MetricsConfig 控制 Prometheus 指标的暴露地址
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"` // 例如 ":9102"; 为空则不启动指标服务
}
