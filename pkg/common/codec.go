package common

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Pixel payloads travel as packed R,G,B bytes compressed with zstd.

var zstdEncPool = sync.Pool{
	New: func() any {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		return enc
	},
}

var zstdDecPool = sync.Pool{
	New: func() any {
		dec, _ := zstd.NewReader(nil)
		return dec
	},
}

// EncodePixels packs and compresses pix.
func EncodePixels(pix []RGB) ([]byte, error) {
	raw := make([]byte, 0, len(pix)*3)
	for _, p := range pix {
		raw = append(raw, p.R, p.G, p.B)
	}

	var buf bytes.Buffer
	enc := zstdEncPool.Get().(*zstd.Encoder)
	enc.Reset(&buf)
	if _, err := enc.Write(raw); err != nil {
		_ = enc.Close()
		zstdEncPool.Put(enc)
		return nil, fmt.Errorf("compress pixels: %w", err)
	}
	if err := enc.Close(); err != nil {
		zstdEncPool.Put(enc)
		return nil, fmt.Errorf("compress pixels: %w", err)
	}
	zstdEncPool.Put(enc)
	return buf.Bytes(), nil
}

// DecodePixels reverses EncodePixels.
func DecodePixels(data []byte) ([]RGB, error) {
	dec := zstdDecPool.Get().(*zstd.Decoder)
	defer zstdDecPool.Put(dec)

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress pixels: %w", err)
	}
	if len(raw)%3 != 0 {
		return nil, fmt.Errorf("decompress pixels: %d bytes is not a whole number of RGB triples", len(raw))
	}

	pix := make([]RGB, len(raw)/3)
	for i := range pix {
		pix[i] = RGB{R: raw[3*i], G: raw[3*i+1], B: raw[3*i+2]}
	}
	return pix, nil
}
