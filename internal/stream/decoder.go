package stream

import (
	"bytes"
	"strings"
)

// LineDecoder 把任意切分的字节块还原成完整行。
// 块尾的半行留在缓冲里等下一块补齐，因此组装结果与
// 传输层如何切分字节无关。
type LineDecoder struct {
	buf []byte
}

// Feed 追加一块字节，返回其中所有完整行（不含换行符）
func (d *LineDecoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimSuffix(string(d.buf[:i]), "\r"))
		d.buf = d.buf[i+1:]
	}

	return lines
}

// Rest 流结束后仍滞留的半行
func (d *LineDecoder) Rest() string {
	return strings.TrimSuffix(string(d.buf), "\r")
}
