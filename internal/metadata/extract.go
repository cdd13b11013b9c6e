package metadata

import (
	"bytes"
	"encoding/json"
	"log"
)

// 生成器写入 tEXt 块的元数据键
const (
	textChunkType = "tEXt"
	keyWorkflow   = "workflow"
	keyPrompt     = "prompt"
)

// Result 一次元数据提取的结果。HasMetadata 表示至少有一个键成功解码。
type Result struct {
	HasMetadata bool
	Workflow    *string
	PromptText  *string
	Params      *GenerationParameters
}

// Extract 从图片原始字节中提取生成元数据。
// 容器无法解析时视为不含元数据，返回零值结果而不是错误；
// 单个键的 JSON 解码失败只记日志，继续扫描其余块，同键后出现者覆盖先出现者。
func Extract(data []byte) Result {
	var res Result

	sc := NewChunkScanner(data)
	for sc.Next() {
		c := sc.Chunk()
		if c.Type != textChunkType {
			continue
		}
		key, value, ok := splitKeyedText(c.Payload)
		if !ok {
			continue
		}

		switch key {
		case keyWorkflow:
			if !json.Valid(value) {
				log.Printf("metadata: workflow chunk is not valid JSON, skipping")
				continue
			}
			s := string(value)
			res.Workflow = &s
			res.HasMetadata = true
		case keyPrompt:
			g, err := ParseNodeGraph(value)
			if err != nil {
				log.Printf("metadata: decode prompt graph failed: %v", err)
				continue
			}
			if text := g.PromptText(); text != "" {
				res.PromptText = &text
			} else {
				res.PromptText = nil
			}
			res.Params = g.Parameters()
			res.HasMetadata = true
		}
	}

	if sc.Err() != nil {
		return Result{}
	}
	return res
}

// splitKeyedText 把 tEXt 载荷在第一个零字节处拆成键和值。
// 没有零字节的载荷不是合法的键值块。
func splitKeyedText(payload []byte) (string, []byte, bool) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(payload[:i]), payload[i+1:], true
}
