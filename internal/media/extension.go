package media

import (
	"mime"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultExtension is used when nothing better can be derived.
const DefaultExtension = "bin"

var extensionTable = map[string]string{
	"image/jpeg":         "jpg",
	"image/png":          "png",
	"image/webp":         "webp",
	"image/gif":          "gif",
	"audio/ogg":          "ogg",
	"audio/mpeg":         "mp3",
	"audio/mp4":          "m4a",
	"audio/aac":          "aac",
	"audio/amr":          "amr",
	"video/mp4":          "mp4",
	"video/3gpp":         "3gp",
	"application/pdf":    "pdf",
	"application/zip":    "zip",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.ms-excel":                                                  "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.ms-powerpoint":                                             "ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"text/plain":       "txt",
	"text/csv":         "csv",
	"text/vcard":       "vcf",
	"application/json": "json",
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Extension maps a MIME type (parameters allowed) to a file extension without the dot.
// Unknown types fall back to mimetype's registry, then to sniffing data, then to "bin".
func Extension(mimeType string, data []byte) string {
	base := strings.ToLower(strings.TrimSpace(mimeType))
	if mt, _, err := mime.ParseMediaType(base); err == nil {
		base = mt
	}
	if ext, ok := extensionTable[base]; ok {
		return ext
	}
	if base != "" {
		if m := mimetype.Lookup(base); m != nil {
			if ext := strings.TrimPrefix(m.Extension(), "."); ext != "" {
				return ext
			}
		}
	}
	if len(data) > 0 {
		if ext := strings.TrimPrefix(mimetype.Detect(data).Extension(), "."); ext != "" {
			return ext
		}
	}
	return DefaultExtension
}

// FileName derives the stored name from the message id, or the current time when absent.
func FileName(messageID, mimeType string, data []byte) string {
	stem := unsafeName.ReplaceAllString(messageID, "")
	if stem == "" {
		stem = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return stem + "." + Extension(mimeType, data)
}
