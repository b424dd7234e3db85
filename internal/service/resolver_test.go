package service

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
)

func setupResolver(t *testing.T) (*Resolver, *filestore.FileStore) {
	t.Helper()
	store, err := filestore.New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	return NewResolver(store, "http://127.0.0.1:3001", 16, time.Minute, quietLogger()), store
}

func writeStoreFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o640); err != nil {
		t.Fatalf("Ошибка записи файла: %v", err)
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		raw      string
		scheme   Scheme
		category model.Category
		name     string
		wantErr  error
	}{
		{"asset://images/logo.png", SchemeAsset, model.CategoryImage, "logo.png", nil},
		{"asset://videos/intro%20clip.mp4", SchemeAsset, model.CategoryVideo, "intro clip.mp4", nil},
		{"temp://video_1712.mp4", SchemeTemp, model.CategoryVideo, "video_1712.mp4", nil},
		{"temp://icon_1712.png", SchemeTemp, model.CategoryImage, "icon_1712.png", nil},
		{"data:image/png;base64,AAAA", SchemeData, "", "", nil},
		{"https://example.com/a.png", SchemeHTTP, "", "", nil},
		{"asset://audio/a.mp3", "", "", "", filestore.ErrInvalidCategory},
		{"asset://images/../secret", "", "", "", filestore.ErrInvalidName},
		{"asset://images", "", "", "", filestore.ErrInvalidName},
		{"temp://a%2Fb.png", "", "", "", filestore.ErrInvalidName},
		{"file:///etc/passwd", "", "", "", ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ref, err := ParseRef(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Ожидалась %v, получено %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRef: %v", err)
			}
			if ref.Scheme != tt.scheme || ref.Category != tt.category || ref.Name != tt.name {
				t.Errorf("Ref = %+v", ref)
			}
		})
	}
}

func TestRefFor(t *testing.T) {
	if got := RefFor(model.Committed("logo.png"), model.CategoryImage).String(); got != "asset://images/logo.png" {
		t.Errorf("committed: %q", got)
	}
	if got := RefFor(model.Staged("video_1.mp4"), model.CategoryVideo).String(); got != "temp://video_1.mp4" {
		t.Errorf("staged: %q", got)
	}
}

func TestMIMEType(t *testing.T) {
	tests := map[string]string{
		"a.PNG":  "image/png",
		"a.jpeg": "image/jpeg",
		"a.svg":  "image/svg+xml",
		"a.mkv":  "video/x-matroska",
		"a.ogv":  "video/ogg",
		"a.bin":  "application/octet-stream",
		"noext":  "application/octet-stream",
	}
	for name, want := range tests {
		if got := MIMEType(name); got != want {
			t.Errorf("MIMEType(%q) = %q, ожидалось %q", name, got, want)
		}
	}
}

func TestResolve_CommittedVideo(t *testing.T) {
	r, store := setupResolver(t)
	writeStoreFile(t, filepath.Join(store.Root(), "assets", "videos"), "intro.mp4", []byte("0123456789"))

	d, err := r.Resolve("asset://videos/intro.mp4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.MIME != "video/mp4" || d.Size != 10 {
		t.Errorf("Descriptor = %+v", d)
	}
	if d.URL != "/protocol/asset/videos/intro.mp4" {
		t.Errorf("URL = %q", d.URL)
	}
	if d.StreamURL != "http://127.0.0.1:3001/videos/intro.mp4" {
		t.Errorf("StreamURL = %q", d.StreamURL)
	}
}

func TestResolve_StagedImageHasNoStreamURL(t *testing.T) {
	r, store := setupResolver(t)
	writeStoreFile(t, store.TempDir(), "icon_1.png", []byte("png"))

	d, err := r.ResolveAsset(model.Staged("icon_1.png"), model.CategoryImage)
	if err != nil {
		t.Fatalf("ResolveAsset: %v", err)
	}
	if d.URL != "/protocol/temp/icon_1.png" || d.StreamURL != "" {
		t.Errorf("Descriptor = %+v", d)
	}
}

func TestResolve_PassThrough(t *testing.T) {
	r, _ := setupResolver(t)

	d, err := r.Resolve("https://cdn.example.com/logo.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !d.PassThrough || d.URL != "https://cdn.example.com/logo.png" {
		t.Errorf("Descriptor = %+v", d)
	}
}

func TestResolve_NotFound(t *testing.T) {
	r, _ := setupResolver(t)

	if _, err := r.Resolve("asset://images/missing.png"); !errors.Is(err, filestore.ErrNotFound) {
		t.Errorf("Ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := r.ResolveAsset(model.AssetRef{}, model.CategoryImage); !errors.Is(err, filestore.ErrNotFound) {
		t.Errorf("Пустая ссылка: ожидалась ErrNotFound, получено %v", err)
	}
}

func TestResolve_CacheInvalidation(t *testing.T) {
	r, store := setupResolver(t)
	dir := filepath.Join(store.Root(), "assets", "images")
	writeStoreFile(t, dir, "logo.png", []byte("v1"))

	d, err := r.Resolve("asset://images/logo.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Size != 2 {
		t.Fatalf("Size = %d", d.Size)
	}

	// Изменение файла не видно до инвалидации
	writeStoreFile(t, dir, "logo.png", []byte("version-2"))
	d, _ = r.Resolve("asset://images/logo.png")
	if d.Size != 2 {
		t.Errorf("Ожидался кэшированный размер 2, получено %d", d.Size)
	}

	// Изменение дескриптора вызывающим кодом не портит кэш
	d.Size = 999

	r.InvalidateCommitted(model.CategoryImage, "logo.png")
	d, err = r.Resolve("asset://images/logo.png")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Size != 9 {
		t.Errorf("После инвалидации Size = %d, ожидалось 9", d.Size)
	}
}

func TestResolver_OpenRange(t *testing.T) {
	r, store := setupResolver(t)
	writeStoreFile(t, store.TempDir(), "clip.mp4", []byte("0123456789"))

	ref, err := ParseRef("temp://clip.mp4")
	if err != nil {
		t.Fatalf("ParseRef: %v", err)
	}
	s, err := r.Open(ref, filestore.Closed(2, 5))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "2345" || !s.Partial || s.Size != 10 {
		t.Errorf("data=%q partial=%v size=%d", data, s.Partial, s.Size)
	}

	pass, _ := ParseRef("data:text/plain,hi")
	if _, err := r.Open(pass, nil); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("Ожидалась ErrUnsupportedScheme, получено %v", err)
	}
}
