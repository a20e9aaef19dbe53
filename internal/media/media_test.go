package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
)

type fakeDownloader struct {
	data  []byte
	err   error
	calls int
}

func (f *fakeDownloader) Download(ctx context.Context, msg whatsmeow.DownloadableMessage) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

type failingStorage struct{}

func (failingStorage) Store(ctx context.Context, data []byte, fileName string) (string, error) {
	return "", errors.New("disk full")
}

func TestExtension(t *testing.T) {
	cases := []struct {
		mime string
		data []byte
		want string
	}{
		{"image/jpeg", nil, "jpg"},
		{"audio/ogg; codecs=opus", nil, "ogg"},
		{"APPLICATION/PDF", nil, "pdf"},
		{"application/x-unknown-thing", nil, DefaultExtension},
		{"", nil, DefaultExtension},
		{"", []byte("%PDF-1.4\n"), "pdf"},
	}
	for _, tc := range cases {
		if got := Extension(tc.mime, tc.data); got != tc.want {
			t.Fatalf("Extension(%q) got=%q want=%q", tc.mime, got, tc.want)
		}
	}
}

func TestFileName(t *testing.T) {
	if got := FileName("3EB0ABC", "image/png", nil); got != "3EB0ABC.png" {
		t.Fatalf("got=%q", got)
	}
	if got := FileName("../../etc/passwd", "text/plain", nil); got != "etcpasswd.txt" {
		t.Fatalf("unsafe id not sanitized: %q", got)
	}
	got := FileName("", "application/octet-stream-unknown", nil)
	if !strings.HasSuffix(got, "."+DefaultExtension) || len(got) <= len(DefaultExtension)+1 {
		t.Fatalf("generated name got=%q", got)
	}
}

func TestPipelineStoresLocally(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir, "http://gw.local/media/")
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	p := NewPipeline(store)
	dl := &fakeDownloader{data: []byte("img")}

	url := p.Resolve(context.Background(), dl, "MSG1", &waE2E.ImageMessage{}, "image/jpeg")
	if url != "http://gw.local/media/MSG1.jpg" {
		t.Fatalf("url got=%q", url)
	}
	b, err := os.ReadFile(filepath.Join(dir, "MSG1.jpg"))
	if err != nil || string(b) != "img" {
		t.Fatalf("stored file got=%q err=%v", b, err)
	}
}

func TestPipelineDegradesOnFailure(t *testing.T) {
	store, _ := NewLocalStorage(t.TempDir(), "")
	p := NewPipeline(store)

	dl := &fakeDownloader{err: errors.New("media expired")}
	if url := p.Resolve(context.Background(), dl, "M", &waE2E.DocumentMessage{}, "application/pdf"); url != "" {
		t.Fatalf("download failure url got=%q", url)
	}

	p = NewPipeline(failingStorage{})
	dl = &fakeDownloader{data: []byte("x")}
	if url := p.Resolve(context.Background(), dl, "M", &waE2E.AudioMessage{}, "audio/ogg"); url != "" {
		t.Fatalf("store failure url got=%q", url)
	}
	if dl.calls != 1 {
		t.Fatalf("download calls got=%d", dl.calls)
	}
}

func TestLocalPrune(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewLocalStorage(dir, "")
	old := filepath.Join(dir, "old.bin")
	if err := os.WriteFile(old, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Store(context.Background(), []byte("y"), "new.bin"); err != nil {
		t.Fatal(err)
	}

	n, err := store.Prune(24 * time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("prune got=%d err=%v", n, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "new.bin")); err != nil {
		t.Fatalf("new file removed: %v", err)
	}
}
