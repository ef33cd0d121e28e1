package store

import (
	"reflect"
	"testing"

	"github.com/roach88/contractsync/internal/syncmeta"
)

func TestMarshalMeta_OmitsUnset(t *testing.T) {
	got := marshalMeta(syncmeta.New(10))
	want := []metaEntry{{"size_limit", "10"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("marshalMeta() = %v, want %v", got, want)
	}
}

func TestMarshalMeta_RoundTrip(t *testing.T) {
	m := syncmeta.New(2048)
	m.Observe(5, 9, true)
	m.LowestBlock = syncmeta.Block(5)
	m.HighestBlock = syncmeta.Block(100)

	kv := map[string]string{}
	for _, e := range marshalMeta(m) {
		kv[e.key] = e.value
	}
	got, err := unmarshalMeta(kv, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("round trip = %+v, want %+v", got, m)
	}
}

func TestUnmarshalMeta_Errors(t *testing.T) {
	cases := []map[string]string{
		{"size_limit": "lots"},
		{"oldest_block": "-1", "newest_block": "3"},
		{"oldest_block": "9", "newest_block": "3"},
		{"oldest_block": "1"},
	}
	for _, kv := range cases {
		if _, err := unmarshalMeta(kv, 1); err == nil {
			t.Errorf("unmarshalMeta(%v) succeeded, want error", kv)
		}
	}
}
