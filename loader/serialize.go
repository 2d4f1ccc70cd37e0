// Copyright 2026 The M-Token Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package loader

import "github.com/m-token/mvm/mtoken"

// Serialize re-encodes tokens into the authoritative flat byte buffer and
// rebuilds the TokenOffsets/ByteToToken tables against it (§3, §4.2: "the
// loader rebuilds token_offsets/byte_to_token against the lowered byte
// buffer, which becomes the only representation the interpreter and
// validator ever see").
func Serialize(tokens []Token) *Program {
	p := &Program{Tokens: tokens}

	offset := 0
	var buf []byte
	for _, tok := range tokens {
		p.TokenOffsets = append(p.TokenOffsets, offset)
		buf = mtoken.EncodeUvarint(buf, uint64(tok.Op))

		switch tok.Op.Shape() {
		case mtoken.OperandNone:
		case mtoken.OperandLiteral:
			buf = mtoken.EncodeVarint(buf, tok.Operands[0])
		case mtoken.OperandIndex, mtoken.OperandArity:
			buf = mtoken.EncodeUvarint(buf, uint64(tok.Operands[0]))
		case mtoken.OperandCall:
			buf = mtoken.EncodeUvarint(buf, uint64(tok.Operands[0]))
			buf = mtoken.EncodeUvarint(buf, uint64(tok.Operands[1]))
		case mtoken.OperandJump:
			buf = mtoken.EncodeVarint(buf, tok.Operands[0])
		}
		offset = len(buf)
	}

	p.Code = buf
	p.ByteToToken = make([]int, len(buf))
	for i := range p.ByteToToken {
		p.ByteToToken[i] = -1
	}
	for tokIdx, off := range p.TokenOffsets {
		end := len(buf)
		if tokIdx+1 < len(p.TokenOffsets) {
			end = p.TokenOffsets[tokIdx+1]
		}
		for b := off; b < end; b++ {
			p.ByteToToken[b] = tokIdx
		}
	}
	return p
}

// Load runs the full loader pipeline (§4.2): tokenize the raw program,
// lower every WH/FR into JZ/JMP, then re-serialize against the lowered
// token stream. The returned Program's Code/TokenOffsets/ByteToToken are
// what the validator and interpreter operate on; the original raw bytes
// and any WH/FR tokens never reach them.
func Load(raw []byte) (*Program, error) {
	tokenized, err := Tokenize(raw)
	if err != nil {
		return nil, err
	}
	lowered, err := Lower(tokenized.Tokens)
	if err != nil {
		return nil, err
	}
	return Serialize(lowered), nil
}
