package httpfile

import "strings"

const defaultMimeType = "application/octet-stream"

var mimeTypes = map[string]string{
	"html":  "text/html",
	"htm":   "text/html",
	"css":   "text/css",
	"js":    "application/javascript",
	"txt":   "text/plain",
	"csv":   "text/csv",
	"xml":   "application/xml",
	"json":  "application/json",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"png":   "image/png",
	"gif":   "image/gif",
	"webp":  "image/webp",
	"ico":   "image/x-icon",
	"svg":   "image/svg+xml",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"pdf":   "application/pdf",
	"zip":   "application/zip",
	"tar":   "application/x-tar",
	"gz":    "application/gzip",
	"bz2":   "application/x-bzip2",
	"7z":    "application/x-7z-compressed",
	"mp3":   "audio/mpeg",
	"wav":   "audio/wav",
	"ogg":   "audio/ogg",
	"mp4":   "video/mp4",
	"webm":  "video/webm",
	"doc":   "application/msword",
	"docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pptx":  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"wasm":  "application/wasm",
}

// MimeType maps a file extension (with or without the leading dot) to a
// MIME type, defaulting to application/octet-stream.
func MimeType(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if mt, ok := mimeTypes[strings.ToLower(ext)]; ok {
		return mt
	}
	return defaultMimeType
}
