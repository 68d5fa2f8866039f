// Package media принимает изображения от клиентов и выгружает их во
// внешнее хранилище, возвращая URL для сохранения в сообщении.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/iudanet/gophchat/internal/apperr"
)

// MaxImageBytes - максимальный размер декодированного изображения
const MaxImageBytes = 10 << 20

var (
	ErrPayloadTooLarge = apperr.New(apperr.PayloadTooLarge, "image exceeds 10 MB")
	ErrInvalidImage    = apperr.New(apperr.InvalidArgument, "image must be a base64 data URL or an http(s) link")
	ErrUnsupportedType = apperr.New(apperr.InvalidArgument, "unsupported image type")
)

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Image - декодированное изображение
type Image struct {
	ContentType string
	Data        []byte
}

// Ext возвращает расширение файла для типа изображения
func (i Image) Ext() string {
	return extensions[i.ContentType]
}

// Uploader сохраняет изображение и возвращает его публичный URL
type Uploader interface {
	Upload(ctx context.Context, img Image) (string, error)
}

// IsRemote сообщает, является ли ссылка уже выгруженным http(s) URL
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://")
}

// DecodeDataURL разбирает data:image/<type>;base64,<payload>.
// Размер проверяется до декодирования, чтобы не аллоцировать лишнего.
func DecodeDataURL(ref string) (Image, error) {
	rest, ok := strings.CutPrefix(ref, "data:")
	if !ok {
		return Image{}, ErrInvalidImage
	}

	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, ErrInvalidImage
	}

	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return Image{}, ErrInvalidImage
	}
	contentType = strings.ToLower(contentType)
	if _, known := extensions[contentType]; !known {
		return Image{}, ErrUnsupportedType
	}

	if base64.StdEncoding.DecodedLen(len(payload)) > MaxImageBytes+2 {
		return Image{}, ErrPayloadTooLarge
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, apperr.Wrap(apperr.InvalidArgument, "invalid base64 image", err)
	}
	if len(data) > MaxImageBytes {
		return Image{}, ErrPayloadTooLarge
	}
	if len(data) == 0 {
		return Image{}, ErrInvalidImage
	}

	return Image{ContentType: contentType, Data: data}, nil
}

// Ingest превращает ссылку от клиента в URL для хранения: data URL
// выгружается через uploader, http(s) ссылка возвращается как есть
func Ingest(ctx context.Context, up Uploader, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	if IsRemote(ref) {
		return ref, nil
	}

	img, err := DecodeDataURL(ref)
	if err != nil {
		return "", err
	}

	url, err := up.Upload(ctx, img)
	if err != nil {
		return "", apperr.Wrap(apperr.Persistence, "failed to upload image", err)
	}
	return url, nil
}

// InlineUploader не выгружает изображение, а возвращает его обратно
// как data URL. Используется без настроенного S3.
type InlineUploader struct{}

// Upload кодирует изображение обратно в data URL
func (InlineUploader) Upload(_ context.Context, img Image) (string, error) {
	return fmt.Sprintf("data:%s;base64,%s", img.ContentType, base64.StdEncoding.EncodeToString(img.Data)), nil
}
