package nodelist

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"trustclient/errcode"
	"trustclient/plugin"
)

// CacheVersion is written as the first byte of every cached blob. Blobs of
// another version are rejected as a whole.
const CacheVersion = 6

// ErrCacheVersion is returned for blobs written by another format version.
var ErrCacheVersion = errcode.New(errcode.Version, "cache version mismatch")

// CacheKey is the cache key of a chain's node list.
func CacheKey(chainID uint64) string {
	return "nodelist_" + strconv.FormatUint(chainID, 10)
}

// WhitelistCacheKey is the cache key of a chain's whitelist.
func WhitelistCacheKey(chainID uint64, contract common.Address) string {
	return CacheKey(chainID) + "_0x" + hex.EncodeToString(contract.Bytes())
}

// MarshalCache serializes the node table, weights and verified hashes.
func (r *Registry) MarshalCache() []byte {
	var buf bytes.Buffer
	buf.WriteByte(CacheVersion)
	buf.Write(r.Contract.Bytes())
	buf.Write(binary.BigEndian.AppendUint64(nil, r.LastBlock))
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(r.nodes))))
	for _, w := range r.weights {
		buf.Write(w.appendBinary(nil))
	}
	for _, n := range r.nodes {
		var fixed []byte
		fixed = binary.BigEndian.AppendUint32(fixed, n.Capacity)
		fixed = binary.BigEndian.AppendUint32(fixed, n.Index)
		fixed = binary.BigEndian.AppendUint64(fixed, n.Deposit)
		fixed = binary.BigEndian.AppendUint64(fixed, uint64(n.Props))
		buf.Write(fixed)
		buf.Write(n.Address.Bytes())
		buf.WriteString(n.URL)
		buf.WriteByte(0)
	}
	buf.Write(binary.BigEndian.AppendUint32(nil, uint32(len(r.VerifiedHashes))))
	for _, h := range r.VerifiedHashes {
		buf.Write(binary.BigEndian.AppendUint64(nil, h.Block))
		buf.Write(h.Hash.Bytes())
	}
	return buf.Bytes()
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (rd *reader) next(n int) []byte {
	if rd.err != nil {
		return nil
	}
	if n < 0 || rd.pos+n > len(rd.data) {
		rd.err = errcode.New(errcode.InvalidData, "cache entry truncated")
		return nil
	}
	out := rd.data[rd.pos : rd.pos+n]
	rd.pos += n
	return out
}

func (rd *reader) u32() uint32 {
	if b := rd.next(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (rd *reader) u64() uint64 {
	if b := rd.next(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (rd *reader) cstring() string {
	if rd.err != nil {
		return ""
	}
	end := bytes.IndexByte(rd.data[rd.pos:], 0)
	if end < 0 {
		rd.err = errcode.New(errcode.InvalidData, "cache entry truncated")
		return ""
	}
	s := string(rd.data[rd.pos : rd.pos+end])
	rd.pos += end + 1
	return s
}

func checkVersion(data []byte) error {
	if len(data) == 0 {
		return errcode.New(errcode.InvalidData, "empty cache entry")
	}
	if data[0] != CacheVersion {
		return ErrCacheVersion
	}
	return nil
}

// RestoreCache loads a blob produced by MarshalCache. On any error the
// registry is left untouched.
func (r *Registry) RestoreCache(data []byte) error {
	if err := checkVersion(data); err != nil {
		return err
	}
	rd := &reader{data: data, pos: 1}
	contract := common.BytesToAddress(rd.next(common.AddressLength))
	lastBlock := rd.u64()
	count := int(rd.u32())
	if rd.err == nil && count*weightSize > len(data) {
		return errcode.New(errcode.InvalidData, "cache entry truncated")
	}
	weights := make([]Weight, 0, count)
	for i := 0; i < count && rd.err == nil; i++ {
		if b := rd.next(weightSize); b != nil {
			weights = append(weights, decodeWeight(b))
		}
	}
	nodes := make([]Node, 0, count)
	for i := 0; i < count && rd.err == nil; i++ {
		n := Node{
			Capacity: rd.u32(),
			Index:    rd.u32(),
			Deposit:  rd.u64(),
			Props:    Props(rd.u64()),
		}
		n.Address = common.BytesToAddress(rd.next(common.AddressLength))
		n.URL = rd.cstring()
		nodes = append(nodes, n)
	}
	hashCount := int(rd.u32())
	var hashes []plugin.VerifiedHash
	for i := 0; i < hashCount && rd.err == nil; i++ {
		block := rd.u64()
		hash := common.BytesToHash(rd.next(common.HashLength))
		hashes = append(hashes, plugin.VerifiedHash{Block: block, Hash: hash})
	}
	if rd.err != nil {
		return rd.err
	}

	r.Contract = contract
	r.LastBlock = lastBlock
	r.nodes = nodes
	r.weights = weights
	r.VerifiedHashes = hashes
	r.ApplyWhitelist()
	r.dirty = false
	return nil
}

// MarshalCache serializes the whitelist addresses.
func (w *Whitelist) MarshalCache() []byte {
	out := []byte{CacheVersion}
	out = binary.BigEndian.AppendUint64(out, w.LastBlock)
	out = binary.BigEndian.AppendUint32(out, uint32(len(w.Addresses)))
	for _, a := range w.Addresses {
		out = append(out, a.Bytes()...)
	}
	return out
}

// RestoreCache loads a blob produced by Whitelist.MarshalCache.
func (w *Whitelist) RestoreCache(data []byte) error {
	if err := checkVersion(data); err != nil {
		return err
	}
	rd := &reader{data: data, pos: 1}
	lastBlock := rd.u64()
	count := int(rd.u32())
	if rd.err == nil && count*common.AddressLength > len(data) {
		return errcode.New(errcode.InvalidData, "cache entry truncated")
	}
	addrs := make([]common.Address, 0, count)
	for i := 0; i < count && rd.err == nil; i++ {
		addrs = append(addrs, common.BytesToAddress(rd.next(common.AddressLength)))
	}
	if rd.err != nil {
		return rd.err
	}
	w.LastBlock = lastBlock
	w.Addresses = addrs
	return nil
}
