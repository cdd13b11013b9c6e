package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrMalformedContainer 容器数据无法解析（签名缺失或损坏）
var ErrMalformedContainer = errors.New("metadata: malformed container")

// containerSignature PNG 容器固定前缀
var containerSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

const (
	chunkHeaderSize = 8 // 4 字节大端长度 + 4 字节类型
	chunkCRCSize    = 4
)

// Chunk 容器中的一个数据块
type Chunk struct {
	Type    string
	Payload []byte
}

// ChunkScanner 顺序扫描容器中的数据块，单次使用，不可回退。
// 用法参照 bufio.Scanner：for s.Next() { c := s.Chunk() }，结束后检查 s.Err()。
// 块尾的 CRC 字节只跳过，不校验。
type ChunkScanner struct {
	data   []byte
	offset int
	cur    Chunk
	err    error
	done   bool
}

// NewChunkScanner 创建扫描器。签名不匹配时 Next 立即返回 false，
// Err 返回 ErrMalformedContainer。
func NewChunkScanner(data []byte) *ChunkScanner {
	s := &ChunkScanner{data: data}
	if len(data) < len(containerSignature) || !bytes.Equal(data[:len(containerSignature)], containerSignature) {
		s.err = ErrMalformedContainer
		s.done = true
		return s
	}
	s.offset = len(containerSignature)
	return s
}

// Next 推进到下一个块。遇到声明长度越过缓冲区末尾的块或残缺的块头时
// 安静停止，之前读出的块仍然有效。
func (s *ChunkScanner) Next() bool {
	if s.done {
		return false
	}
	if s.offset+chunkHeaderSize > len(s.data) {
		s.done = true
		return false
	}

	length := binary.BigEndian.Uint32(s.data[s.offset : s.offset+4])
	typ := string(s.data[s.offset+4 : s.offset+chunkHeaderSize])

	payloadStart := s.offset + chunkHeaderSize
	payloadEnd := payloadStart + int(length)
	if payloadEnd < payloadStart || payloadEnd > len(s.data) {
		// 截断的块：到此为止
		s.done = true
		return false
	}

	s.cur = Chunk{Type: typ, Payload: s.data[payloadStart:payloadEnd]}
	s.offset = payloadEnd + chunkCRCSize
	return true
}

// Chunk 返回最近一次 Next 读出的块
func (s *ChunkScanner) Chunk() Chunk {
	return s.cur
}

// Err 返回致命错误。正常扫描结束（包括遇到截断块）返回 nil。
func (s *ChunkScanner) Err() error {
	return s.err
}
