package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/config"
	"github.com/Xushengqwer/risk_gate/internal/constants"
)

// saramaLogBridge 把 Sarama 的内部日志转发到 zap (Debug 级别，Sarama 的输出非常啰嗦)。
type saramaLogBridge struct {
	logger *zap.Logger
}

// NewSaramaLogBridge 返回一个 sarama.StdLogger；logger 为 nil 时返回 nil，Sarama 保持默认输出。
func NewSaramaLogBridge(logger *zap.Logger) sarama.StdLogger {
	if logger == nil {
		return nil
	}
	return &saramaLogBridge{logger: logger.Named("sarama")}
}

func (b *saramaLogBridge) Print(v ...interface{}) {
	b.logger.Debug("Sarama", zap.String("internal_log", fmt.Sprint(v...)))
}

func (b *saramaLogBridge) Printf(format string, v ...interface{}) {
	b.logger.Debug("Sarama", zap.String("internal_log", fmt.Sprintf(format, v...)))
}

func (b *saramaLogBridge) Println(v ...interface{}) {
	b.logger.Debug("Sarama", zap.String("internal_log", fmt.Sprintln(v...)))
}

// GetSaramaConfig 把 config.KafkaConfig 转换为 sarama.Config。
// 生产者固定为同步模式 (Return.Successes/Errors 均为 true)，acks=all 时启用幂等写入。
func GetSaramaConfig(cfg config.KafkaConfig, logger *zap.Logger) (*sarama.Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bridge := NewSaramaLogBridge(logger); bridge != nil {
		sarama.Logger = bridge
	}

	sc := sarama.NewConfig()
	sc.ClientID = constants.ServiceName

	if cfg.Version == "" {
		return nil, fmt.Errorf("kafka.version 未配置")
	}
	version, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("无效的 Kafka 版本 '%s': %w", cfg.Version, err)
	}
	sc.Version = version

	// --- 生产者 ---
	switch cfg.Producer.RequiredAcks {
	case "no_response":
		sc.Producer.RequiredAcks = sarama.NoResponse
	case "wait_for_local":
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	case "wait_for_all", "":
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		logger.Warn("未知的 required_acks，使用 wait_for_all", zap.String("配置值(required_acks)", cfg.Producer.RequiredAcks))
		sc.Producer.RequiredAcks = sarama.WaitForAll
	}
	if cfg.Producer.TimeoutMs > 0 {
		sc.Producer.Timeout = cfg.Producer.TimeoutMs * time.Millisecond
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	if cfg.Producer.MaxMessageBytes > 0 {
		sc.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	}
	if sc.Producer.RequiredAcks == sarama.WaitForAll && sc.Version.IsAtLeast(sarama.V0_11_0_0) {
		// 幂等写入要求每个连接只有一个在途请求
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	}

	// --- 消费者 ---
	switch cfg.Consumer.Offsets.Initial {
	case "latest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	case "earliest", "":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		logger.Warn("未知的 offsets.initial，使用 earliest", zap.String("配置值(initial)", cfg.Consumer.Offsets.Initial))
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.Consumer.Offsets.AutoCommitEnable
	if cfg.Consumer.Offsets.AutoCommitEnable && cfg.Consumer.Offsets.AutoCommitIntervalMs > 0 {
		sc.Consumer.Offsets.AutoCommit.Interval = cfg.Consumer.Offsets.AutoCommitIntervalMs * time.Millisecond
	}
	if cfg.Consumer.SessionTimeoutMs > 0 {
		sc.Consumer.Group.Session.Timeout = cfg.Consumer.SessionTimeoutMs * time.Millisecond
	}
	if cfg.Consumer.HeartbeatIntervalMs > 0 {
		sc.Consumer.Group.Heartbeat.Interval = cfg.Consumer.HeartbeatIntervalMs * time.Millisecond
	} else if cfg.Consumer.SessionTimeoutMs > 0 {
		sc.Consumer.Group.Heartbeat.Interval = sc.Consumer.Group.Session.Timeout / 3
	}
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}

	// --- SASL / TLS ---
	if cfg.EnableSASL {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User = cfg.SASLUser
		sc.Net.SASL.Password = cfg.SASLPassword
		switch cfg.SASLMechanism {
		case "PLAIN", "":
			sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		case "SCRAM-SHA-256":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		case "SCRAM-SHA-512":
			sc.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		default:
			return nil, fmt.Errorf("不支持的 SASL 机制: '%s'", cfg.SASLMechanism)
		}
	}
	if cfg.EnableTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		if cfg.TLSInsecureSkipVerify {
			logger.Warn("TLS 证书校验已关闭，仅用于测试环境")
		}
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = tlsConfig
	}

	logger.Info("Sarama 配置已生成",
		zap.String("版本(version)", sc.Version.String()),
		zap.String("客户端ID(client_id)", sc.ClientID),
		zap.Bool("幂等生产者(idempotent)", sc.Producer.Idempotent),
		zap.Bool("SASL", sc.Net.SASL.Enable),
		zap.Bool("TLS", sc.Net.TLS.Enable),
	)
	return sc, nil
}

func buildTLSConfig(cfg config.KafkaConfig) (*tls.Config, error) {
	tc := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.TLSInsecureSkipVerify}
	if cfg.TLSCaFile != "" {
		pem, err := os.ReadFile(cfg.TLSCaFile)
		if err != nil {
			return nil, fmt.Errorf("读取 CA 证书文件失败 %s: %w", cfg.TLSCaFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA 证书不是有效的 PEM 格式 (文件: %s)", cfg.TLSCaFile)
		}
		tc.RootCAs = pool
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("tls_cert_file 与 tls_key_file 必须同时提供")
	}
	if cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("加载客户端证书失败: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return tc, nil
}
