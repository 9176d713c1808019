// Package cases defines the legal-case record and its persisted encodings:
// the fixed-width store key and the length-prefixed field payload.
package cases

import (
	"encoding/binary"
	"fmt"
)

// KeySize is the width of an encoded record identifier.
const KeySize = 4

// Case is one stored legal-case document. ID is the store's primary key and
// is not part of the encoded payload.
type Case struct {
	ID           uint32 `json:"id"`
	DocID        string `json:"doc_id"`
	CaseID       string `json:"case_id"`
	CaseName     string `json:"case_name"`
	Court        string `json:"court"`
	CaseType     string `json:"case_type"`
	Procedure    string `json:"procedure"`
	JudgmentDate string `json:"judgment_date"`
	PublicDate   string `json:"public_date"`
	Parties      string `json:"parties"`
	Cause        string `json:"cause"`
	LegalBasis   string `json:"legal_basis"`
	FullText     string `json:"full_text"`
}

// Key encodes id big-endian so byte order matches numeric order.
func Key(id uint32) []byte {
	return binary.BigEndian.AppendUint32(make([]byte, 0, KeySize), id)
}

func ParseKey(key []byte) (uint32, error) {
	if len(key) != KeySize {
		return 0, fmt.Errorf("case key must be %d bytes, got %d", KeySize, len(key))
	}
	return binary.BigEndian.Uint32(key), nil
}
