package toy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/gonum/mat"
)

const (
	codecMagic   = "SGTY"
	codecVersion = uint32(1)
)

type header struct {
	Version     uint32
	Vocab       uint32
	Hidden      uint32
	NCtx        uint32
	MaxGradNorm float64
}

// MarshalBinary encodes the configuration and weights. Gradients are not
// saved.
func (m *LM) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(codecMagic)
	h := header{
		Version:     codecVersion,
		Vocab:       uint32(m.cfg.Vocab),
		Hidden:      uint32(m.cfg.Hidden),
		NCtx:        uint32(m.cfg.NCtx),
		MaxGradNorm: m.cfg.MaxGradNorm,
	}
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	for _, d := range []*mat.Dense{m.emb, m.w} {
		if _, err := d.MarshalBinaryTo(&buf); err != nil {
			return nil, fmt.Errorf("toy: encode weights: %w", err)
		}
	}
	if err := binary.Write(&buf, binary.LittleEndian, m.bias); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces the model with the encoded one.
func (m *LM) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	magic := make([]byte, len(codecMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != codecMagic {
		return errors.New("toy: not a model checkpoint")
	}
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("toy: read header: %w", err)
	}
	if h.Version != codecVersion {
		return fmt.Errorf("toy: unsupported checkpoint version %d", h.Version)
	}
	cfg := Config{
		Vocab:       int(h.Vocab),
		Hidden:      int(h.Hidden),
		NCtx:        int(h.NCtx),
		MaxGradNorm: h.MaxGradNorm,
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	next := alloc(cfg)
	for _, d := range []*mat.Dense{next.emb, next.w} {
		d.Reset()
		if _, err := d.UnmarshalBinaryFrom(r); err != nil {
			return fmt.Errorf("toy: decode weights: %w", err)
		}
	}
	if rows, cols := next.emb.Dims(); rows != cfg.Vocab || cols != cfg.Hidden {
		return fmt.Errorf("toy: embedding is %dx%d, want %dx%d", rows, cols, cfg.Vocab, cfg.Hidden)
	}
	if rows, cols := next.w.Dims(); rows != cfg.Hidden || cols != cfg.Vocab {
		return fmt.Errorf("toy: projection is %dx%d, want %dx%d", rows, cols, cfg.Hidden, cfg.Vocab)
	}
	if err := binary.Read(r, binary.LittleEndian, next.bias); err != nil {
		return fmt.Errorf("toy: read bias: %w", err)
	}
	if r.Len() != 0 {
		return fmt.Errorf("toy: %d trailing bytes", r.Len())
	}
	*m = *next
	return nil
}
