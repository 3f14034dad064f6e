package config

// AliyunConfig 包含了阿里云文本审核服务的配置，仅在 audit_platform = "aliyun" 时使用
type AliyunConfig struct {
	AccessKeyID     string            `mapstructure:"access_key_id"`
	AccessKeySecret string            `mapstructure:"access_key_secret"`
	RegionID        string            `mapstructure:"region_id"`  // 例如 "cn-shanghai"
	Endpoint        string            `mapstructure:"endpoint"`   // 例如 "imageaudit.cn-shanghai.aliyuncs.com"
	TimeoutMs       int64             `mapstructure:"timeout_ms"` // 调用阿里云接口的超时时间 (毫秒)
	Scenes          []string          `mapstructure:"scenes"`     // 请求的审核标签, 例如 ["ad", "spam", "porn", "abuse"]
	LabelMapping    map[string]string `mapstructure:"label_mapping"` // 阿里云标签 -> 本地违规类别, 覆盖内置映射
}
