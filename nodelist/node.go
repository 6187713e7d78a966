package nodelist

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Attr holds client-side flags of a node that are not part of the on-chain
// registration.
type Attr uint8

const (
	AttrWhitelisted Attr = 1 << iota
	AttrBootNode
)

// Node is one registered server.
type Node struct {
	Address  common.Address
	URL      string
	Props    Props
	Capacity uint32
	Index    uint32
	Deposit  uint64
	Attrs    Attr
}

// IsBootNode reports whether the node came from configuration and has not yet
// been confirmed by a node list update.
func (n Node) IsBootNode() bool { return n.Attrs&AttrBootNode != 0 }

// IsWhitelisted reports whether the node is on the chain's whitelist.
func (n Node) IsWhitelisted() bool { return n.Attrs&AttrWhitelisted != 0 }

// Weight is the reliability record paired with the node at the same index.
type Weight struct {
	ResponseCount     uint32
	TotalResponseTime uint32 // milliseconds
	BlacklistedUntil  uint64 // unix seconds
}

const weightSize = 16

// IsBlacklisted reports whether the node is excluded at now.
func (w Weight) IsBlacklisted(now time.Time) bool {
	return w.BlacklistedUntil > unix(now)
}

// AverageResponseTime returns the mean latency in milliseconds or 0 without data.
func (w Weight) AverageResponseTime() uint32 {
	if w.ResponseCount == 0 {
		return 0
	}
	return w.TotalResponseTime / w.ResponseCount
}

func (w Weight) appendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, w.ResponseCount)
	b = binary.BigEndian.AppendUint32(b, w.TotalResponseTime)
	return binary.BigEndian.AppendUint64(b, w.BlacklistedUntil)
}

func decodeWeight(b []byte) Weight {
	return Weight{
		ResponseCount:     binary.BigEndian.Uint32(b[0:4]),
		TotalResponseTime: binary.BigEndian.Uint32(b[4:8]),
		BlacklistedUntil:  binary.BigEndian.Uint64(b[8:16]),
	}
}

func unix(t time.Time) uint64 {
	s := t.Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}

// HTTPURL rewrites an https url to plain http.
func HTTPURL(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "http://" + url[len("https://"):]
	}
	return url
}
