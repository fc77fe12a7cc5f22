package gateway

import (
	"strings"
	"sync"

	"github.com/ccp-p/media-transcriber/pkg/llm"
	"github.com/ccp-p/media-transcriber/pkg/models"
)

// Pricing 模型单价，单位美元/百万 token
type Pricing struct {
	TextInput  float64
	AudioInput float64
	Output     float64
}

// PriceTable 已知模型的单价
var PriceTable = map[string]Pricing{
	"gemini-2.5-flash":      {TextInput: 0.30, AudioInput: 1.00, Output: 2.50},
	"gemini-2.5-flash-lite": {TextInput: 0.10, AudioInput: 0.30, Output: 0.40},
	"gemini-2.5-pro":        {TextInput: 1.25, AudioInput: 1.25, Output: 10.00},
	"gemini-2.0-flash":      {TextInput: 0.10, AudioInput: 0.70, Output: 0.40},
}

// PricingFor 返回模型单价，未知模型按同系列估算
func PricingFor(model string) Pricing {
	if p, ok := PriceTable[model]; ok {
		return p
	}
	if strings.Contains(model, "pro") {
		return PriceTable["gemini-2.5-pro"]
	}
	return PriceTable["gemini-2.5-flash"]
}

// UsageCounter 单次运行的用量累计
// 只有网关写入，其余组件通过 Snapshot 读取
type UsageCounter struct {
	mu      sync.Mutex
	model   string
	pricing Pricing
	ops     map[Operation]*models.OperationUsage
}

// NewUsageCounter 创建用量累计器
func NewUsageCounter(model string) *UsageCounter {
	return &UsageCounter{
		model:   model,
		pricing: PricingFor(model),
		ops:     make(map[Operation]*models.OperationUsage),
	}
}

func (u *UsageCounter) record(op Operation, attempts int, usage *llm.Usage, audioSeconds float64) {
	u.mu.Lock()
	defer u.mu.Unlock()

	entry, ok := u.ops[op]
	if !ok {
		entry = &models.OperationUsage{}
		u.ops[op] = entry
	}
	entry.Calls++
	entry.Attempts += attempts
	if usage == nil {
		return
	}

	entry.AudioSeconds += audioSeconds
	textTokens := usage.PromptTokens - usage.AudioTokens
	audioTokens := usage.AudioTokens
	inputCost := float64(textTokens)*u.pricing.TextInput + float64(audioTokens)*u.pricing.AudioInput
	if audioTokens == 0 {
		// 没有返回模态明细时按该类型的输入单价计
		inputCost = float64(usage.PromptTokens) * op.InputRate(u.pricing)
		if op.AudioInput() {
			audioTokens, textTokens = usage.PromptTokens, 0
		}
	}
	entry.InputTokens += textTokens
	entry.AudioTokens += audioTokens
	entry.OutputTokens += usage.OutputTokens
	entry.Cost += (inputCost + float64(usage.OutputTokens)*u.pricing.Output) / 1e6
}

// Snapshot 返回当前用量的副本
func (u *UsageCounter) Snapshot() models.UsageSummary {
	u.mu.Lock()
	defer u.mu.Unlock()

	summary := models.UsageSummary{
		Model:       u.model,
		ByOperation: make(map[string]models.OperationUsage, len(u.ops)),
	}
	for _, op := range Operations {
		if entry, ok := u.ops[op]; ok {
			summary.ByOperation[op.String()] = *entry
			summary.Total.Add(*entry)
		}
	}
	return summary
}

// Cost 累计费用（美元）
func (u *UsageCounter) Cost() float64 {
	return u.Snapshot().Total.Cost
}

// EstimateCost 按另一个模型的单价估算同样用量的费用
func (u *UsageCounter) EstimateCost(model string) float64 {
	p := PricingFor(model)
	total := u.Snapshot().Total
	return (float64(total.InputTokens)*p.TextInput +
		float64(total.AudioTokens)*p.AudioInput +
		float64(total.OutputTokens)*p.Output) / 1e6
}
