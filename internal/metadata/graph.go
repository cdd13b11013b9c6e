package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// 已识别的节点类型（class_type）
const (
	nodeTextEncode       = "CLIPTextEncode"
	nodeCheckpointLoader = "CheckpointLoaderSimple"
	nodeSampler          = "KSampler"
	nodeEmptyLatent      = "EmptyLatentImage"
	nodeLoraLoader       = "LoraLoader"
	nodeSaveImage        = "SaveImage"
	nodeVAEDecode        = "VAEDecode"
)

// GraphNode 节点图中的单个节点
type GraphNode struct {
	ID     string
	Type   string
	Inputs map[string]any
}

// NodeGraph 按文档顺序保存的节点序列。map 不保序，
// 这里必须逐 token 解码以保留键的出现顺序。
type NodeGraph struct {
	nodes []GraphNode
}

// GenerationParameters 从节点图中提取的生成参数。
// 所有字段独立可空，缺失的输入保持 nil，绝不用零值顶替。
type GenerationParameters struct {
	Checkpoint  *string     `json:"checkpoint"`
	SamplerName *string     `json:"sampler_name"`
	Steps       *int        `json:"steps"`
	CFG         *float64    `json:"cfg"`
	Seed        *int64      `json:"seed"`
	Scheduler   *string     `json:"scheduler"`
	Denoise     *float64    `json:"denoise"`
	Dimensions  *Dimensions `json:"dimensions"`
	Loras       []string    `json:"loras,omitempty"`
	OtherNodes  []NodeRef   `json:"other_nodes,omitempty"`
}

// Dimensions 画布尺寸参数
type Dimensions struct {
	Width     *int `json:"width"`
	Height    *int `json:"height"`
	BatchSize *int `json:"batch_size"`
}

// NodeRef 未识别节点的类型与节点 ID
type NodeRef struct {
	Type   string `json:"type"`
	NodeID string `json:"node_id"`
}

// ParseNodeGraph 解析节点图文档：顶层为 JSON 对象，键是节点 ID，
// 值为 {class_type, inputs}。不符合节点结构的条目跳过。
func ParseNodeGraph(data []byte) (*NodeGraph, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode node graph: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("node graph is not a JSON object")
	}

	g := &NodeGraph{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode node id: %w", err)
		}
		id, ok := keyTok.(string)
		if !ok {
			return nil, errors.New("node id is not a string")
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode node %q: %w", id, err)
		}

		var node struct {
			ClassType string         `json:"class_type"`
			Inputs    map[string]any `json:"inputs"`
		}
		nd := json.NewDecoder(bytes.NewReader(raw))
		nd.UseNumber()
		if err := nd.Decode(&node); err != nil || node.ClassType == "" {
			continue
		}
		g.nodes = append(g.nodes, GraphNode{ID: id, Type: node.ClassType, Inputs: node.Inputs})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode node graph: %w", err)
	}
	return g, nil
}

// PromptText 收集所有文本编码节点的 text 输入，按文档顺序用空行连接。
// 非字符串的 text 输入（比如连线引用）不参与。
func (g *NodeGraph) PromptText() string {
	var parts []string
	for _, n := range g.nodes {
		if n.Type != nodeTextEncode {
			continue
		}
		if v, ok := n.Inputs["text"].(string); ok {
			parts = append(parts, v)
		}
	}
	return joinBlankLine(parts)
}

func joinBlankLine(parts []string) string {
	var buf bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
	}
	return buf.String()
}

// Parameters 按节点类型提取生成参数。同类节点多次出现时，
// 文档顺序靠后的节点按字段覆盖靠前的。
func (g *NodeGraph) Parameters() *GenerationParameters {
	p := &GenerationParameters{}
	for _, n := range g.nodes {
		switch n.Type {
		case nodeCheckpointLoader:
			if v, ok := stringInput(n.Inputs, "ckpt_name"); ok {
				p.Checkpoint = &v
			}
		case nodeSampler:
			if v, ok := stringInput(n.Inputs, "sampler_name"); ok {
				p.SamplerName = &v
			}
			if v, ok := intInput(n.Inputs, "steps"); ok {
				p.Steps = &v
			}
			if v, ok := floatInput(n.Inputs, "cfg"); ok {
				p.CFG = &v
			}
			if v, ok := int64Input(n.Inputs, "seed"); ok {
				p.Seed = &v
			}
			if v, ok := stringInput(n.Inputs, "scheduler"); ok {
				p.Scheduler = &v
			}
			if v, ok := floatInput(n.Inputs, "denoise"); ok {
				p.Denoise = &v
			}
		case nodeEmptyLatent:
			d := &Dimensions{}
			if v, ok := intInput(n.Inputs, "width"); ok {
				d.Width = &v
			}
			if v, ok := intInput(n.Inputs, "height"); ok {
				d.Height = &v
			}
			if v, ok := intInput(n.Inputs, "batch_size"); ok {
				d.BatchSize = &v
			}
			p.Dimensions = d
		case nodeLoraLoader:
			if v, ok := stringInput(n.Inputs, "lora_name"); ok {
				p.Loras = append(p.Loras, v)
			}
		case nodeTextEncode, nodeSaveImage, nodeVAEDecode:
			// 已识别，不携带生成参数
		default:
			p.OtherNodes = append(p.OtherNodes, NodeRef{Type: n.Type, NodeID: n.ID})
		}
	}
	return p
}

func stringInput(inputs map[string]any, key string) (string, bool) {
	v, ok := inputs[key].(string)
	return v, ok
}

// floatInput 数值输入兼容 JSON 数字和数字字符串，其余形态一律缺失
func floatInput(inputs map[string]any, key string) (float64, bool) {
	switch v := inputs[key].(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func intInput(inputs map[string]any, key string) (int, bool) {
	f, ok := floatInput(inputs, key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func int64Input(inputs map[string]any, key string) (int64, bool) {
	if v, ok := inputs[key].(json.Number); ok {
		if i, err := v.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := floatInput(inputs, key)
	if !ok {
		return 0, false
	}
	return int64(f), true
}
