package pool

import "sync"

// BufferSize 流式拷贝的统一缓冲区大小（256KB）
const BufferSize = 256 * 1024

// 池里存 *[]byte 而不是切片本身，避免每次归还都重新装箱
var buffers = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, BufferSize)
		return &buf
	},
}

// GetBuffer 取一块缓冲区，用完交回 PutBuffer
func GetBuffer() *[]byte {
	return buffers.Get().(*[]byte)
}

// PutBuffer 归还缓冲区
func PutBuffer(buf *[]byte) {
	buffers.Put(buf)
}
