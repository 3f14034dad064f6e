// Package aliyunclient 用阿里云内容安全 ScanText 接口实现 platform.ContentReviewer。
package aliyunclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	imageaudit "github.com/alibabacloud-go/imageaudit-20191230/v3/client"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/config"
	"github.com/Xushengqwer/risk_gate/internal/constants"
	"github.com/Xushengqwer/risk_gate/internal/platform"
)

// PlatformName 是阿里云审核平台在日志和指标中的名称
const PlatformName = "aliyun"

// scanTextAPI 是 imageaudit.Client 中本包用到的那一个方法，便于测试替换。
type scanTextAPI interface {
	ScanTextWithOptions(request *imageaudit.ScanTextRequest, runtime *util.RuntimeOptions) (*imageaudit.ScanTextResponse, error)
}

// AuditClient 封装阿里云文本审核调用
type AuditClient struct {
	api        scanTextAPI
	logger     *zap.Logger
	scanLabels []*imageaudit.ScanTextRequestLabels
	apiTimeout time.Duration
}

// NewAuditClient 根据配置创建客户端。
func NewAuditClient(cfg config.AliyunConfig, logger *zap.Logger) (*AuditClient, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("阿里云配置不完整: access_key_id 和 access_key_secret 不能为空")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("阿里云配置不完整: endpoint 不能为空")
	}

	client, err := imageaudit.NewClient(&openapi.Config{
		AccessKeyId:     tea.String(cfg.AccessKeyID),
		AccessKeySecret: tea.String(cfg.AccessKeySecret),
		Endpoint:        tea.String(cfg.Endpoint),
		RegionId:        tea.String(cfg.RegionID),
	})
	if err != nil {
		return nil, fmt.Errorf("创建阿里云 imageaudit 客户端失败: %w", err)
	}
	c := newAuditClient(client, cfg, logger)
	c.logger.Info("阿里云 imageaudit 客户端初始化成功",
		zap.String("endpoint", cfg.Endpoint),
		zap.Int("审核标签数(label_count)", len(c.scanLabels)),
	)
	return c, nil
}

func newAuditClient(api scanTextAPI, cfg config.AliyunConfig, logger *zap.Logger) *AuditClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	scenes := cfg.Scenes
	if len(scenes) == 0 {
		scenes = constants.AliyunDefaultScenes
	}
	labels := make([]*imageaudit.ScanTextRequestLabels, 0, len(scenes))
	for _, s := range scenes {
		labels = append(labels, &imageaudit.ScanTextRequestLabels{Label: tea.String(s)})
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = constants.AliyunDefaultTimeout
	}
	return &AuditClient{api: api, logger: logger.Named(PlatformName), scanLabels: labels, apiTimeout: timeout}
}

func (c *AuditClient) GetPlatformName() string {
	return PlatformName
}

// ReviewTextBatch 一次请求审核整批文本。
// ScanText 的任务没有 DataId 字段，结果按 Elements 的顺序与 tasks 对应。
func (c *AuditClient) ReviewTextBatch(ctx context.Context, tasks []platform.TaskData) ([]platform.ReviewResult, error) {
	if len(tasks) == 0 {
		return []platform.ReviewResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	apiTasks := make([]*imageaudit.ScanTextRequestTasks, len(tasks))
	for i, task := range tasks {
		apiTasks[i] = &imageaudit.ScanTextRequestTasks{Content: tea.String(task.Content)}
	}
	runtime := &util.RuntimeOptions{
		ReadTimeout:    tea.Int(int(c.apiTimeout.Milliseconds())),
		ConnectTimeout: tea.Int(int(c.apiTimeout.Milliseconds())),
	}

	resp, err := c.api.ScanTextWithOptions(&imageaudit.ScanTextRequest{Tasks: apiTasks, Labels: c.scanLabels}, runtime)
	if err != nil {
		if isThrottling(err) {
			return nil, fmt.Errorf("阿里云 ScanText 限流: %v: %w", err, platform.ErrReviewThrottled)
		}
		return nil, fmt.Errorf("调用阿里云 ScanText 失败: %w", err)
	}
	if resp == nil || resp.Body == nil {
		return nil, errors.New("阿里云 ScanText 返回了空的响应体")
	}
	requestID := tea.StringValue(resp.Body.RequestId)
	if code := tea.Int32Value(resp.StatusCode); code != 0 && code != 200 {
		return nil, fmt.Errorf("阿里云 ScanText 返回非200状态: %d, RequestID: %s", code, requestID)
	}

	out := make([]platform.ReviewResult, len(tasks))
	var elements []*imageaudit.ScanTextResponseBodyDataElements
	if resp.Body.Data != nil {
		elements = resp.Body.Data.Elements
	}
	if len(elements) == 0 {
		c.logger.Warn("阿里云返回成功但没有任何结果，整批视为通过", zap.String("request_id", requestID))
		for i, task := range tasks {
			out[i] = platform.ReviewResult{OriginalTaskID: task.ID, Suggestion: "pass"}
		}
		return out, nil
	}
	if len(elements) != len(tasks) {
		return nil, fmt.Errorf("阿里云返回的结果数 (%d) 与任务数 (%d) 不一致, RequestID: %s", len(elements), len(tasks), requestID)
	}

	for i, el := range elements {
		out[i] = convertElement(tasks[i].ID, el)
	}
	c.logger.Debug("阿里云批量文本审核完成",
		zap.Int("任务数(task_count)", len(tasks)),
		zap.String("request_id", requestID),
	)
	return out, nil
}

// convertElement 把单个任务的标签结果合并为一个 ReviewResult。block 优先于 review。
func convertElement(taskID string, el *imageaudit.ScanTextResponseBodyDataElements) platform.ReviewResult {
	res := platform.ReviewResult{OriginalTaskID: taskID, Suggestion: "pass"}
	if el == nil {
		res.Suggestion = "review"
		res.Error = errors.New("阿里云返回的对应任务结果为空")
		return res
	}
	res.ProviderTaskID = tea.StringValue(el.TaskId)

	for _, r := range el.Results {
		if r == nil {
			continue
		}
		suggestion := strings.ToLower(tea.StringValue(r.Suggestion))
		switch {
		case suggestion == "block":
			res.Suggestion = "block"
		case suggestion == "review" && res.Suggestion != "block":
			res.Suggestion = "review"
		}
		if suggestion == "pass" || suggestion == "" {
			continue
		}
		var matched []string
		for _, d := range r.Details {
			if d == nil {
				continue
			}
			for _, cx := range d.Contexts {
				if cx != nil && cx.Context != nil {
					matched = append(matched, tea.StringValue(cx.Context))
				}
			}
		}
		res.Details = append(res.Details, platform.RejectionDetail{
			Label:          tea.StringValue(r.Label),
			Suggestion:     suggestion,
			Score:          float64(tea.Float32Value(r.Rate)),
			MatchedContent: matched,
		})
	}
	return res
}

func isThrottling(err error) bool {
	var sdkErr *tea.SDKError
	if errors.As(err, &sdkErr) && strings.Contains(strings.ToLower(tea.StringValue(sdkErr.Code)), "throttling") {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "throttling") || strings.Contains(msg, "限流")
}

var _ platform.ContentReviewer = (*AuditClient)(nil)
