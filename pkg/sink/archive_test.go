package sink

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/modoterra/logsink/pkg/rundir"
)

type member struct {
	name     string
	typeflag byte
	body     string
	link     string
}

func buildTar(t *testing.T, members []member) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		header := &tar.Header{
			Name:     m.name,
			Typeflag: m.typeflag,
			Mode:     0o644,
			Size:     int64(len(m.body)),
			Linkname: m.link,
		}
		if m.typeflag == tar.TypeDir {
			header.Mode = 0o755
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("WriteHeader(%s): %v", m.name, err)
		}
		if m.body != "" {
			if _, err := tw.Write([]byte(m.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newRunDir(t *testing.T) *rundir.Dir {
	t.Helper()
	dir, err := rundir.Create(t.TempDir(), "r1")
	if err != nil {
		t.Fatalf("rundir.Create: %v", err)
	}
	t.Cleanup(func() { dir.Close() })
	return dir
}

func TestExtract(t *testing.T) {
	archive := buildTar(t, []member{
		{name: "./", typeflag: tar.TypeDir},
		{name: "results/", typeflag: tar.TypeDir},
		{name: "results/junit.xml", typeflag: tar.TypeReg, body: "<testsuite/>"},
		{name: "./coverage/summary.txt", typeflag: tar.TypeReg, body: "87%"},
		{name: "latest", typeflag: tar.TypeSymlink, link: "/etc/passwd"},
		{name: "hard", typeflag: tar.TypeLink, link: "results/junit.xml"},
		{name: "status", typeflag: tar.TypeReg, body: "overwritten"},
	})

	for name, payload := range map[string][]byte{"plain": archive, "gzip": gzipped(t, archive)} {
		t.Run(name, func(t *testing.T) {
			dir := newRunDir(t)
			if err := dir.WriteFile("status", []byte("{}\n")); err != nil {
				t.Fatal(err)
			}
			if err := Extract(bytes.NewReader(payload), dir, nil); err != nil {
				t.Fatalf("Extract: %v", err)
			}

			for rel, want := range map[string]string{
				"results/junit.xml":    "<testsuite/>",
				"coverage/summary.txt": "87%",
				"status":               "{}\n",
			} {
				got, err := os.ReadFile(filepath.Join(dir.Path(), rel))
				if err != nil {
					t.Fatalf("read %s: %v", rel, err)
				}
				if string(got) != want {
					t.Errorf("%s = %q, want %q", rel, got, want)
				}
			}
			for _, skipped := range []string{"latest", "hard"} {
				if _, err := os.Lstat(filepath.Join(dir.Path(), skipped)); !os.IsNotExist(err) {
					t.Errorf("%s should have been skipped: %v", skipped, err)
				}
			}
		})
	}
}

func TestExtract_Failures(t *testing.T) {
	escaping := buildTar(t, []member{{name: "../outside.txt", typeflag: tar.TypeReg, body: "x"}})
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"escaping member", escaping},
		{"truncated tar", escaping[:600]},
		{"bad gzip", []byte{0x1f, 0x8b, 0x00, 0x00}},
		{"garbage", bytes.Repeat([]byte("not a tar archive "), 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := newRunDir(t)
			if err := Extract(bytes.NewReader(tt.payload), dir, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	dir := newRunDir(t)
	if err := Extract(bytes.NewReader(nil), dir, nil); !errors.Is(err, ErrNoArchive) {
		t.Errorf("empty payload error = %v, want ErrNoArchive", err)
	}
}

func TestMemberName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a/b.txt", "a/b.txt", false},
		{"./a//b/", "a/b", false},
		{"/abs/file", "abs/file", false},
		{".", "", false},
		{"./", "", false},
		{"..", "", true},
		{"a/../../b", "", true},
	}
	for _, tt := range tests {
		got, err := memberName(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("memberName(%q) = %q, %v", tt.in, got, err)
		}
	}
}
