package constants

import "time"

const (
	AliyunAPIMaxRetriesForThrottling = 3               // 远程审核被限流时最多重试3次
	AliyunAPIBaseDelayForThrottling  = 1 * time.Second // 首次退避时间，之后指数增长

	AliyunDefaultTimeout = 3 * time.Second // 未配置 timeout_ms 时的调用超时
)

// AliyunDefaultScenes 是未配置 scenes 时请求的审核标签
var AliyunDefaultScenes = []string{"antispam"}
