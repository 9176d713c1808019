package cases

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleCase() *Case {
	return &Case{
		ID:           42,
		DocID:        "doc-42",
		CaseID:       "(2021)京01民终123号",
		CaseName:     "张三诉李四买卖合同纠纷案",
		Court:        "北京市第一中级人民法院",
		CaseType:     "民事",
		Procedure:    "二审",
		JudgmentDate: "2021-06-01",
		PublicDate:   "2021-07-01",
		Parties:      "张三;李四",
		Cause:        "买卖合同纠纷",
		LegalBasis:   "《中华人民共和国合同法》第一百零七条",
		FullText:     "本院认为……",
	}
}

func TestKey_OrderMatchesNumericOrder(t *testing.T) {
	ids := []uint32{0, 1, 255, 256, 65535, 1 << 24, 1<<32 - 1}
	for i := 1; i < len(ids); i++ {
		assert.Negative(t, bytes.Compare(Key(ids[i-1]), Key(ids[i])), "%d < %d", ids[i-1], ids[i])
	}
	assert.Equal(t, []byte{0, 0, 1, 0}, Key(256))
}

func TestParseKey(t *testing.T) {
	id, err := ParseKey(Key(999))
	require.NoError(t, err)
	assert.Equal(t, uint32(999), id)

	_, err = ParseKey([]byte{1, 2})
	assert.Error(t, err)
}

func TestCodec_RoundTrip(t *testing.T) {
	in := sampleCase()
	out, err := Unmarshal(in.ID, Marshal(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodec_EmptyFieldsOmitted(t *testing.T) {
	b := Marshal(&Case{ID: 1, CaseName: "x"})
	out, err := Unmarshal(1, b)
	require.NoError(t, err)
	assert.Equal(t, &Case{ID: 1, CaseName: "x"}, out)
	assert.Len(t, b, 3)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	b := Marshal(&Case{Court: "court"})
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendString(b, "future field")

	out, err := Unmarshal(5, b)
	require.NoError(t, err)
	assert.Equal(t, "court", out.Court)
}

func TestUnmarshal_Malformed(t *testing.T) {
	valid := Marshal(sampleCase())

	tests := []struct {
		name    string
		payload []byte
	}{
		{"truncated string", valid[:len(valid)-3]},
		{"garbage tag", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
		{"known field wrong type", protowire.AppendVarint(protowire.AppendTag(nil, 3, protowire.VarintType), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(1, tt.payload)
			assert.Error(t, err)
		})
	}
}
