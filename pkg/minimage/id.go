package minimage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxIDLength        = 255
	maxExtensionLength = 16
)

// UUIDGenerator produces ids of the form <uuid>[.ext]
type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) NewID(ext string) string {
	id := uuid.New().String()
	if ext == "" {
		return id
	}
	return id + "." + ext
}

// TimestampGenerator produces ids prefixed with the upload time:
// 20060102_150405_<uuid>[.ext]
type TimestampGenerator struct {
	Clock Clock
}

func NewTimestampGenerator(clock Clock) *TimestampGenerator {
	if clock == nil {
		clock = time.Now
	}
	return &TimestampGenerator{Clock: clock}
}

func (g *TimestampGenerator) NewID(ext string) string {
	id := fmt.Sprintf("%s_%s", g.Clock().UTC().Format("20060102_150405"), uuid.New())
	if ext == "" {
		return id
	}
	return id + "." + ext
}

// NormalizeExtension lowercases ext and strips one leading dot. An empty
// extension is allowed; anything other than 1-16 ASCII letters or digits is
// rejected with ErrInvalidArgument.
func NormalizeExtension(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return "", nil
	}
	if len(ext) > maxExtensionLength {
		return "", invalidArgument("extension %q too long", ext)
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return "", invalidArgument("extension %q contains invalid characters", ext)
		}
	}
	return ext, nil
}

// ValidateID rejects ids that are not safe as a single path component.
// Externally supplied ids must pass this before reaching any store.
func ValidateID(id string) error {
	if id == "" {
		return invalidArgument("id is required")
	}
	if len(id) > maxIDLength {
		return invalidArgument("id too long")
	}
	if strings.HasPrefix(id, ".") {
		return invalidArgument("id %q must not start with a dot", id)
	}
	if strings.ContainsAny(id, "/\\\x00") {
		return invalidArgument("id %q contains a path separator", id)
	}
	return nil
}

// ExtensionOf returns the normalized extension suffix of an id, if any.
func ExtensionOf(id string) string {
	i := strings.LastIndexByte(id, '.')
	if i < 0 || i == len(id)-1 {
		return ""
	}
	ext, err := NormalizeExtension(id[i+1:])
	if err != nil {
		return ""
	}
	return ext
}
