package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ccp-p/media-transcriber/pkg/utils"
)

// Operation 网关支持的调用类型
type Operation int

const (
	OpTranscribe Operation = iota
	OpFormat
	OpSummarize
)

// Operations 全部调用类型
var Operations = []Operation{OpTranscribe, OpFormat, OpSummarize}

var operationNames = [...]string{
	OpTranscribe: "transcribe",
	OpFormat:     "format",
	OpSummarize:  "summarize",
}

func (o Operation) String() string {
	if !o.Valid() {
		return fmt.Sprintf("operation(%d)", int(o))
	}
	return operationNames[o]
}

// Valid 是否为已定义的调用类型
func (o Operation) Valid() bool {
	return o >= OpTranscribe && o <= OpSummarize
}

// AudioInput 输入是否为音频
func (o Operation) AudioInput() bool {
	return o == OpTranscribe
}

// InputRate 该调用类型的输入计价（美元/百万 token）
func (o Operation) InputRate(p Pricing) float64 {
	if o.AudioInput() {
		return p.AudioInput
	}
	return p.TextInput
}

// PromptSet 每种调用类型的提示词
type PromptSet map[Operation]string

const defaultTranscribePrompt = `请将这段音频完整转写为文字。
要求：
- 保持音频原本的语言，不要翻译
- 逐字转写，不要总结或省略
- 按说话内容自然分段
- 无法听清的部分标注为 [听不清]
- 只输出转写文本，不要添加任何说明`

const defaultFormatPrompt = `请整理下面的语音转写文本，使其易于阅读。
要求：
- 保持原文语言和内容，不要翻译、不要删减信息
- 补全标点，修正明显的识别错误，去掉口头禅和重复
- 按话题合理分段，必要时添加小标题
- 只输出整理后的文本`

const defaultSummarizePrompt = `请为下面的语音转写文本写一份摘要。
要求：
- 使用与原文相同的语言
- 先用一两句话概括主题
- 再以要点形式列出主要内容和结论
- 如有待办事项或决定，单独列出`

// DefaultPrompts 内置提示词
func DefaultPrompts() PromptSet {
	return PromptSet{
		OpTranscribe: defaultTranscribePrompt,
		OpFormat:     defaultFormatPrompt,
		OpSummarize:  defaultSummarizePrompt,
	}
}

// LoadPrompts 从目录读取 transcribe.txt、format.txt、summarize.txt
// 缺失的文件使用内置提示词
func LoadPrompts(dir string) (PromptSet, error) {
	prompts := DefaultPrompts()
	if dir == "" {
		return prompts, nil
	}

	for _, op := range Operations {
		path := filepath.Join(dir, op.String()+".txt")
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			utils.Debug("提示词文件不存在，使用内置提示词: %s", path)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("读取提示词 %s 失败: %w", path, err)
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			prompts[op] = text
		}
	}
	return prompts, nil
}
