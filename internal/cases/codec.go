package cases

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Payload field numbers. New fields must take fresh numbers; decoders skip
// numbers they do not know.
const (
	fieldDocID protowire.Number = iota + 1
	fieldCaseID
	fieldCaseName
	fieldCourt
	fieldCaseType
	fieldProcedure
	fieldJudgmentDate
	fieldPublicDate
	fieldParties
	fieldCause
	fieldLegalBasis
	fieldFullText
)

var errWireType = errors.New("unexpected wire type")

func (c *Case) fields() []*string {
	return []*string{
		&c.DocID, &c.CaseID, &c.CaseName, &c.Court, &c.CaseType, &c.Procedure,
		&c.JudgmentDate, &c.PublicDate, &c.Parties, &c.Cause, &c.LegalBasis, &c.FullText,
	}
}

// Marshal encodes the case fields as length-delimited protobuf wire records.
// Empty fields are omitted.
func Marshal(c *Case) []byte {
	var b []byte
	for i, f := range c.fields() {
		if *f == "" {
			continue
		}
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.BytesType)
		b = protowire.AppendString(b, *f)
	}
	return b
}

// Unmarshal decodes a payload produced by Marshal into a Case carrying id.
func Unmarshal(id uint32, b []byte) (*Case, error) {
	c := &Case{ID: id}
	fields := c.fields()
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("reading tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		if num < fieldDocID || num > fieldFullText {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("skipping field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		if typ != protowire.BytesType {
			return nil, fmt.Errorf("field %d: %w %d", num, errWireType, typ)
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return nil, fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		*fields[num-1] = v
		b = b[n:]
	}
	return c, nil
}
