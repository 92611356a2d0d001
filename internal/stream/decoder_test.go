package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectLines(d *LineDecoder, chunks [][]byte) []string {
	var lines []string
	for _, chunk := range chunks {
		lines = append(lines, d.Feed(chunk)...)
	}
	return lines
}

func TestLineDecoderSplitsOnNewlines(t *testing.T) {
	d := &LineDecoder{}

	lines := d.Feed([]byte("data: one\ndata: two\npartial"))
	require.Equal(t, []string{"data: one", "data: two"}, lines)
	assert.Equal(t, "partial", d.Rest())
}

func TestLineDecoderCarriesPartialLineAcrossChunks(t *testing.T) {
	d := &LineDecoder{}

	assert.Empty(t, d.Feed([]byte("data: hel")))
	lines := d.Feed([]byte("lo\n"))
	assert.Equal(t, []string{"data: hello"}, lines)
	assert.Empty(t, d.Rest())
}

func TestLineDecoderStripsCarriageReturn(t *testing.T) {
	d := &LineDecoder{}

	lines := d.Feed([]byte("data: x\r\n"))
	assert.Equal(t, []string{"data: x"}, lines)
}

func TestLineDecoderChunkBoundaryInvariance(t *testing.T) {
	// 同一字节流在任意位置切分，得到的行序列完全一致
	payload := []byte("data: {\"a\":1}\ndata: {\"b\":2}\n\ndata: {\"c\":3}\ntail")

	whole := &LineDecoder{}
	wantLines := whole.Feed(payload)
	wantRest := whole.Rest()

	for split := 1; split < len(payload); split++ {
		d := &LineDecoder{}
		got := collectLines(d, [][]byte{payload[:split], payload[split:]})
		assert.Equal(t, wantLines, got, "split at %d", split)
		assert.Equal(t, wantRest, d.Rest(), "split at %d", split)
	}

	// 逐字节喂入
	d := &LineDecoder{}
	var got []string
	for i := range payload {
		got = append(got, d.Feed(payload[i:i+1])...)
	}
	assert.Equal(t, wantLines, got)
	assert.Equal(t, wantRest, d.Rest())
}
