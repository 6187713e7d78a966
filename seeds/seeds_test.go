package seeds

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

type mockResolver struct {
	records map[string][]string
}

func (m *mockResolver) LookupTXT(_ context.Context, name string) ([]string, error) {
	values, ok := m.records[name]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return values, nil
}

func TestParseRecord(t *testing.T) {
	seed, err := ParseRecord("in3seed=0x45d45e6ff99e6c34a235d263965910298985fcfe@https://in3.example.org/mainnet;props=0x1dd")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x45d45e6ff99e6c34a235d263965910298985fcfe"), seed.Address)
	require.Equal(t, "https://in3.example.org/mainnet", seed.URL)
	require.EqualValues(t, 0x1dd, seed.Props)

	require.Equal(t, seed, mustParse(t, Format(seed)))

	for _, bad := range []string{
		"seed=0x45d45e6ff99e6c34a235d263965910298985fcfe@https://a",
		"in3seed=0x45d45e6ff99e6c34a235d263965910298985fcfe",
		"in3seed=nothex@https://a.test",
		"in3seed=0x45d45e6ff99e6c34a235d263965910298985fcfe@ftp://a.test",
		"in3seed=0x45d45e6ff99e6c34a235d263965910298985fcfe@https://a.test;props=zz",
	} {
		_, err := ParseRecord(bad)
		require.Error(t, err, bad)
	}
}

func mustParse(t *testing.T, record string) Seed {
	t.Helper()
	s, err := ParseRecord(record)
	require.NoError(t, err)
	return s
}

func TestResolveKeepsValidRecords(t *testing.T) {
	res := &mockResolver{records: map[string][]string{
		"_in3seed.seeds.example.org": {
			"in3seed=0x00000000000000000000000000000000000000a1@https://a.test",
			"garbage",
			"in3seed=0x00000000000000000000000000000000000000a1@https://dup.test",
			"in3seed=0x00000000000000000000000000000000000000b2@http://b.test:8545",
		},
	}}
	seeds, err := Resolve(context.Background(), "seeds.example.org", res)
	require.Error(t, err)
	require.Len(t, seeds, 2)
	require.Equal(t, "https://a.test", seeds[0].URL)
	require.Equal(t, "dns:_in3seed.seeds.example.org", seeds[1].Source)

	_, err = Resolve(context.Background(), "missing.example.org", res)
	require.ErrorContains(t, err, "lookup failed")
}

func TestLookupName(t *testing.T) {
	require.Equal(t, "_in3seed.example.org", LookupName("example.org."))
	require.Equal(t, "_in3seed.example.org", LookupName("_in3seed.example.org"))
}

func TestDNSResolverAgainstLocalServer(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	record := "in3seed=0x00000000000000000000000000000000000000c3@https://c.test"
	mux := dns.NewServeMux()
	mux.HandleFunc("_in3seed.local.test.", func(w dns.ResponseWriter, r *dns.Msg) {
		msg := &dns.Msg{}
		msg.SetReply(r)
		msg.Authoritative = true
		q := r.Question[0]
		if q.Qtype == dns.TypeTXT {
			msg.Answer = append(msg.Answer, &dns.TXT{
				Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
				Txt: []string{record[:20], record[20:]},
			})
		}
		_ = w.WriteMsg(msg)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("dns server did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resolver := NewDNSResolver(pc.LocalAddr().String(), "udp")
	seeds, err := Resolve(ctx, "local.test", resolver)
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	require.Equal(t, "https://c.test", seeds[0].URL)

	_, err = resolver.LookupTXT(ctx, "unknown.test")
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "dns unknown.test"))
}
