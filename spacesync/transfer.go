package spacesync

import (
	"errors"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"strings"
)

// Attachment transfer policy. Payloads at or under the inline threshold are
// embedded directly in the message. Larger payloads are excluded from the
// message body and flagged for out-of-band upload; the caller places the
// bytes elsewhere and supplies a reference attachment (url + size) instead.
// This bounds message size deterministically regardless of payload size.

var DefaultInlineThreshold = mib(1)
var DefaultChunkSize = kib(64)

// side-channel metadata keys for payloads excluded from the message body
const MetadataRequiresUpload = "requiresUpload"
const MetadataOriginalSize = "originalSize"

var ErrSizeMismatch = errors.New("assembled size does not match expected size")
var ErrChecksumMismatch = errors.New("payload checksum mismatch")

type TransferSettings struct {
	InlineThreshold ByteCount
	ChunkSize       ByteCount
}

func DefaultTransferSettings() *TransferSettings {
	return &TransferSettings{
		InlineThreshold: DefaultInlineThreshold,
		ChunkSize:       DefaultChunkSize,
	}
}

// NewAttachment chooses the transfer mode once, at creation time.
// When the payload exceeds the inline threshold the returned attachment has
// no inline data; the caller uploads the bytes out of band and replaces it
// with NewReferenceAttachment.
func NewAttachment(id string, filename string, data []byte, settings *TransferSettings) *Attachment {
	attachment := &Attachment{
		Id:          id,
		ContentType: ContentTypeForFilename(filename),
		SizeBytes:   ByteCount(len(data)),
		Filename:    filename,
	}
	if ByteCount(len(data)) <= settings.InlineThreshold {
		attachment.Data = data
	} else {
		attachment.Metadata = map[string]string{
			MetadataRequiresUpload: "true",
			MetadataOriginalSize:   fmt.Sprintf("%d", len(data)),
		}
	}
	return attachment
}

func NewReferenceAttachment(id string, url string, sizeBytes ByteCount, contentType string) *Attachment {
	return &Attachment{
		Id:          id,
		ContentType: contentType,
		Url:         url,
		// always the original pre-reference size
		SizeBytes: sizeBytes,
	}
}

func (self *Attachment) RequiresUpload() bool {
	return self.Metadata[MetadataRequiresUpload] == "true"
}

// ChunkPayload splits a payload into fixed-size chunks for progressive
// transfer. Chunk order is the sole ordering key.
func ChunkPayload(data []byte, chunkSize ByteCount) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var chunks [][]byte
	for offset := ByteCount(0); offset < ByteCount(len(data)); offset += chunkSize {
		end := offset + chunkSize
		if ByteCount(len(data)) < end {
			end = ByteCount(len(data))
		}
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}

// AssemblePayload concatenates chunks in received order. Assembly is rejected
// when the total length does not match the separately known expected size.
func AssemblePayload(chunks [][]byte, expectedSize ByteCount) ([]byte, error) {
	total := ByteCount(0)
	for _, chunk := range chunks {
		total += ByteCount(len(chunk))
	}
	if total != expectedSize {
		return nil, ErrSizeMismatch
	}
	assembled := make([]byte, 0, total)
	for _, chunk := range chunks {
		assembled = append(assembled, chunk...)
	}
	return assembled, nil
}

// Checksum is the 32-bit streaming checksum over the full payload
// (FNV-1a: seed 0x811C9DC5, multiplier 0x01000193, xor then multiply
// per byte, masked to 32 bits).
func Checksum(data []byte) uint32 {
	h := fnv.New32a()
	h.Write(data)
	return h.Sum32()
}

func VerifyChecksum(data []byte, checksum uint32) bool {
	return Checksum(data) == checksum
}

// ReceivePayload reassembles a chunked transfer and verifies its integrity.
// A checksum mismatch is a transfer-integrity failure, never a silent pass.
func ReceivePayload(chunks [][]byte, expectedSize ByteCount, expectedChecksum uint32) ([]byte, error) {
	assembled, err := AssemblePayload(chunks, expectedSize)
	if err != nil {
		return nil, err
	}
	if !VerifyChecksum(assembled, expectedChecksum) {
		return nil, ErrChecksumMismatch
	}
	return assembled, nil
}

const defaultContentType = "application/octet-stream"

var contentTypesByExtension = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
	".css":  "text/css",
	".csv":  "text/csv",
	".json": "application/json",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".js":   "text/javascript",
	".go":   "text/x-go",
	".py":   "text/x-python",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

func ContentTypeForFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if contentType, ok := contentTypesByExtension[ext]; ok {
		return contentType
	}
	return defaultContentType
}

// Estimated post-compression size ratios by content type, for transfer
// planning only. The actual byte transformation is an external collaborator's
// responsibility; this layer never compresses.
var compressionRatiosByContentType = map[string]float64{
	"text/plain":       0.4,
	"text/markdown":    0.4,
	"text/html":        0.3,
	"text/css":         0.3,
	"text/csv":         0.3,
	"text/javascript":  0.35,
	"text/x-go":        0.35,
	"text/x-python":    0.35,
	"application/json": 0.25,
	"application/yaml": 0.35,
	"application/xml":  0.25,
	"image/svg+xml":    0.3,
}

func IsCompressible(contentType string) bool {
	_, ok := compressionRatiosByContentType[contentType]
	return ok
}

func EstimateCompressedSize(contentType string, sizeBytes ByteCount) ByteCount {
	ratio, ok := compressionRatiosByContentType[contentType]
	if !ok {
		// already-compressed or unknown formats are planned at full size
		return sizeBytes
	}
	return ByteCount(float64(sizeBytes) * ratio)
}
