package migrate

import (
	"testing"
	"testing/fstest"
)

func TestListSQLFilesSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql":   {Data: []byte("select 2")},
		"001_a.SQL":   {Data: []byte("select 1")},
		"README.md":   {Data: []byte("docs")},
		"sub/003.sql": {Data: []byte("select 3")},
	}

	got, err := listSQLFiles(fsys)
	if err != nil {
		t.Fatalf("listSQLFiles: %v", err)
	}
	want := []string{"001_a.SQL", "002_b.sql"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestResolveSource(t *testing.T) {
	if _, _, err := resolveSource(Options{}); err == nil {
		t.Fatalf("expected error without Dir or FS")
	}

	_, src, err := resolveSource(Options{FS: fstest.MapFS{}})
	if err != nil || src != "embedded" {
		t.Fatalf("embedded: src=%q err=%v", src, err)
	}

	dir := t.TempDir()
	_, src, err = resolveSource(Options{Dir: dir, FS: fstest.MapFS{}})
	if err != nil || src != dir {
		t.Fatalf("dir: src=%q err=%v", src, err)
	}

	if _, _, err := resolveSource(Options{Dir: dir + "/missing"}); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}
