package store

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/roach88/contractsync/internal/record"
)

func TestSQLiteLoadMetadata_Defaults(t *testing.T) {
	s := createTestSQLite(t, WithDefaultLimit(4096))

	m, err := s.LoadMetadata(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m.SizeLimit != 4096 {
		t.Errorf("SizeLimit = %d, want 4096", m.SizeLimit)
	}
	if _, _, ok := m.Covered(); ok {
		t.Error("new store reports a covered range")
	}
}

func TestSQLiteLoadMetadata_Corrupt(t *testing.T) {
	s := createTestSQLite(t)
	if _, err := s.db.Exec(`INSERT INTO meta(key, value) VALUES ('newest_block', 'abc')`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadMetadata(context.Background()); err == nil {
		t.Error("expected error for non-numeric watermark")
	}
}

func TestSQLiteHead_OrderedByBlock(t *testing.T) {
	s := createTestSQLite(t)
	insertAll(t, s, KeepFirst, rec("0xc", 3, 1), rec("0xa", 1, 1), rec("0xb", 2, 1), rec("0xd", 4, 1))

	recs, err := s.Head(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := addresses(recs); !reflect.DeepEqual(got, []string{"0xa", "0xb", "0xc"}) {
		t.Errorf("Head() = %v", got)
	}
}

func TestSQLiteEach_StopsOnError(t *testing.T) {
	s := createTestSQLite(t)
	insertAll(t, s, KeepFirst, rec("0xa", 1, 1), rec("0xb", 2, 1))

	stop := errors.New("stop")
	seen := 0
	err := s.Each(context.Background(), func(record.Record) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) || seen != 1 {
		t.Errorf("Each() err=%v seen=%d", err, seen)
	}
}

func TestSQLiteRoundTripsBytecode(t *testing.T) {
	s := createTestSQLite(t)
	want := record.Record{Address: "0xa", Bytecode: []byte{0x60, 0x80, 0x60, 0x40}, Block: 12}
	insertAll(t, s, KeepFirst, want)

	var stored string
	if err := s.db.QueryRow(`SELECT bytecode FROM contracts`).Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if stored != "0x60806040" {
		t.Errorf("bytecode at rest = %q, want hex", stored)
	}

	recs, err := s.Head(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(recs[0], want) {
		t.Errorf("Head() = %+v, want %+v", recs[0], want)
	}
}
