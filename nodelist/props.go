package nodelist

import (
	"strings"
)

// Props is a node's advertised capability set. The low 32 bits are flags,
// bits 32..39 hold the minimum block height the node signs at.
type Props uint64

const (
	PropProof      Props = 0x1
	PropMultichain Props = 0x2
	PropArchive    Props = 0x4
	PropHTTP       Props = 0x8
	PropBinary     Props = 0x10
	PropOnion      Props = 0x20
	PropSigner     Props = 0x40
	PropData       Props = 0x80
	PropStats      Props = 0x100

	// DefaultProps is assigned to nodes that do not announce any.
	DefaultProps Props = 0xFFFF

	flagMask          = 0xFFFFFFFF
	minBlockHeightPos = 32
)

// Flags returns the capability bits without the min block height.
func (p Props) Flags() Props { return p & flagMask }

// Has reports whether every flag in f is set.
func (p Props) Has(f Props) bool { return p&f == f }

// MinBlockHeight returns the encoded minimum block height.
func (p Props) MinBlockHeight() uint8 { return uint8(p >> minBlockHeightPos) }

// WithMinBlockHeight returns a copy with the min block height replaced.
func (p Props) WithMinBlockHeight(h uint8) Props {
	return (p &^ (Props(0xFF) << minBlockHeightPos)) | Props(h)<<minBlockHeightPos
}

// Matches reports whether a node with props node satisfies the requirement p.
// A required min block height accepts nodes signing at that height or lower.
func (p Props) Matches(node Props) bool {
	if p.Flags()&node.Flags() != p.Flags() {
		return false
	}
	if want := p.MinBlockHeight(); want != 0 {
		return node.MinBlockHeight() <= want
	}
	return true
}

var propNames = []struct {
	flag Props
	name string
}{
	{PropProof, "proof"},
	{PropMultichain, "multichain"},
	{PropArchive, "archive"},
	{PropHTTP, "http"},
	{PropBinary, "binary"},
	{PropOnion, "onion"},
	{PropSigner, "signer"},
	{PropData, "data"},
	{PropStats, "stats"},
}

func (p Props) String() string {
	var parts []string
	for _, pn := range propNames {
		if p.Has(pn.flag) {
			parts = append(parts, pn.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}
