package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Xushengqwer/risk_gate/internal/models"
	"github.com/Xushengqwer/risk_gate/internal/moderation"
	"github.com/Xushengqwer/risk_gate/internal/riskgate"
)

// Decider 是消费者背后的决策核心，pipeline.Pipeline 实现了它。
type Decider interface {
	ScanBatch(ctx context.Context, inputs []moderation.ScanInput) []moderation.Result
	EvaluatePlanJSON(ctx context.Context, actorID string, raw []byte) riskgate.Decision
}

// ProcessedResult 是批次中单条消息的处理结果，顺序与输入一致。
type ProcessedResult struct {
	OriginalID string
	Error      error
}

// Processor 把 Kafka 请求交给 Decider，并把结论发布回 Kafka。
type Processor struct {
	logger   *zap.Logger
	decider  Decider
	producer EventProducer
	now      func() time.Time
}

func NewProcessor(logger *zap.Logger, decider Decider, producer EventProducer) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{logger: logger, decider: decider, producer: producer, now: time.Now}
}

// ProcessContentBatch 扫描一批内容并逐条发布审核结果。
// 决策本身不会失败，单条结果只可能因为发布失败而带上 Error。
func (s *Processor) ProcessContentBatch(ctx context.Context, reqs []models.ContentScanRequest) []ProcessedResult {
	if len(reqs) == 0 {
		return []ProcessedResult{}
	}
	inputs := make([]moderation.ScanInput, len(reqs))
	for i, r := range reqs {
		inputs[i] = moderation.ScanInput{
			Text:        r.Text,
			UserID:      r.UserID,
			ModuleName:  r.ModuleName,
			ContentID:   r.ContentID,
			ContentType: r.ContentType,
		}
	}

	results := s.decider.ScanBatch(ctx, inputs)
	out := make([]ProcessedResult, len(reqs))
	if len(results) != len(reqs) {
		err := fmt.Errorf("扫描结果数量 (%d) 与请求数量 (%d) 不一致", len(results), len(reqs))
		for i, r := range reqs {
			out[i] = ProcessedResult{OriginalID: r.RequestID, Error: err}
		}
		return out
	}

	for i, res := range results {
		out[i].OriginalID = reqs[i].RequestID
		event := &models.ModerationResultEvent{
			EventID:   uuid.NewString(),
			RequestID: reqs[i].RequestID,
			Timestamp: s.now(),
			Result:    res,
		}
		if err := s.producer.SendModerationResult(ctx, event); err != nil {
			out[i].Error = fmt.Errorf("发送审核结果失败: %w", err)
			continue
		}
		s.logger.Info("内容审核完成并已发布结果",
			zap.String("请求ID(request_id)", reqs[i].RequestID),
			zap.String("内容ID(content_id)", res.ContentID),
			zap.String("处置(action)", string(res.Action)),
			zap.Float64("置信度(score)", res.ConfidenceScore),
		)
	}
	return out
}

// ProcessPlan 评估一条行动计划并发布结论。
func (s *Processor) ProcessPlan(ctx context.Context, req models.PlanEvaluationRequest) error {
	decision := s.decider.EvaluatePlanJSON(ctx, req.ActorID, req.Plan)
	event := &models.PlanDecisionEvent{
		EventID:   uuid.NewString(),
		RequestID: req.RequestID,
		Timestamp: s.now(),
		Decision:  decision,
	}
	if err := s.producer.SendPlanDecision(ctx, event); err != nil {
		return fmt.Errorf("发送计划评估结论失败: %w", err)
	}
	s.logger.Info("行动计划评估完成并已发布结论",
		zap.String("请求ID(request_id)", req.RequestID),
		zap.String("主体ID(actor_id)", req.ActorID),
		zap.String("结论(outcome)", string(decision.Outcome)),
	)
	return nil
}

func decodeContentRequest(value []byte) (models.ContentScanRequest, error) {
	var req models.ContentScanRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return req, fmt.Errorf("反序列化 ContentScanRequest 失败: %w", err)
	}
	if req.RequestID == "" {
		req.RequestID = req.ContentID
	}
	return req, nil
}

func decodePlanRequest(value []byte) (models.PlanEvaluationRequest, error) {
	var req models.PlanEvaluationRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return req, fmt.Errorf("反序列化 PlanEvaluationRequest 失败: %w", err)
	}
	if req.ActorID == "" {
		return req, fmt.Errorf("PlanEvaluationRequest 缺少 actor_id")
	}
	return req, nil
}
