package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store keeps generated media and returns the URL clients fetch it from.
type Store interface {
	Save(ctx context.Context, data []byte, contentType string) (string, error)
}

// objectName builds prefix/YYYY/MM/DD/<uuid><ext>.
func objectName(prefix, contentType string, now time.Time) string {
	now = now.UTC()
	day := fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day())
	return path.Join(strings.Trim(prefix, "/"), day, uuid.NewString()+ExtensionFor(contentType))
}

func ExtensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
