// Пакет imaging — квадратная обрезка и масштабирование изображений.
// Чистые функции без ввода-вывода (кроме Decode/EncodePNG над потоками).
// Результат детерминирован: одинаковые пиксели и смещение дают
// побайтно одинаковый вывод.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // регистрация декодера JPEG
	"image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // регистрация декодера WebP
)

// DefaultMaxSize — максимальная сторона результата обрезки.
const DefaultMaxSize = 400

// ErrInvalidImage — пустое или повреждённое изображение.
var ErrInvalidImage = errors.New("недопустимое изображение")

// Offset — левый верхний угол квадратного окна в пикселях источника.
type Offset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TargetSize возвращает сторону результата: min(w, h, max).
// Изображение никогда не увеличивается.
func TargetSize(w, h, max int) int {
	size := min(w, h)
	if max > 0 && size > max {
		size = max
	}
	return size
}

// Window возвращает квадратное окно выборки стороной min(w, h).
// Без смещения окно центрируется по длинной оси, смещение прижимается
// так, чтобы окно не выходило за границы источника.
func Window(w, h int, offset *Offset) image.Rectangle {
	side := min(w, h)
	var x, y int
	if offset == nil {
		x = (w - side) / 2
		y = (h - side) / 2
	} else {
		x = clamp(offset.X, 0, w-side)
		y = clamp(offset.Y, 0, h-side)
	}
	return image.Rect(x, y, x+side, y+side)
}

// Crop вырезает квадратное окно из src и масштабирует его до targetSize².
func Crop(src image.Image, targetSize int, offset *Offset) (*image.RGBA, error) {
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: пустые размеры %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	if targetSize <= 0 {
		return nil, fmt.Errorf("%w: размер результата %d", ErrInvalidImage, targetSize)
	}

	window := Window(b.Dx(), b.Dy(), offset).Add(b.Min)
	dst := image.NewRGBA(image.Rect(0, 0, targetSize, targetSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, window, draw.Src, nil)
	return dst, nil
}

// CropPixels — Crop над буфером RGBA8 (4 байта на пиксель, построчно).
func CropPixels(pix []byte, w, h, targetSize int, offset *Offset) ([]byte, error) {
	if w <= 0 || h <= 0 || len(pix) != w*h*4 {
		return nil, fmt.Errorf("%w: буфер %d байт для %dx%d", ErrInvalidImage, len(pix), w, h)
	}
	src := &image.RGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}

	dst, err := Crop(src, targetSize, offset)
	if err != nil {
		return nil, err
	}
	return dst.Pix, nil
}

// Decode декодирует PNG, JPEG или WebP.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, format, nil
}

// EncodePNG кодирует изображение в PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("ошибка кодирования PNG: %w", err)
	}
	return nil
}

// CropToPNG декодирует изображение, обрезает до min(w, h, maxSize)
// и возвращает PNG.
func CropToPNG(r io.Reader, maxSize int, offset *Offset) ([]byte, error) {
	img, _, err := Decode(r)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	cropped, err := Crop(img, TargetSize(b.Dx(), b.Dy(), maxSize), offset)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := EncodePNG(&buf, cropped); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
