package levels

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// Record id prefixes.
const (
	PrefixLevel  = "lvl"
	PrefixZone   = "zon"
	PrefixTile   = "til"
	PrefixEntity = "ent"
	PrefixUser   = "usr"
)

const MaxNameLength = 64

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func NewID(prefix string) string {
	return prefix + "_" + ulid.Make().String()
}

// NewAPIKey hashes the creation time together with 48 random hex characters.
func NewAPIKey(now time.Time) string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	sum := md5.Sum([]byte(now.String() + hex.EncodeToString(buf)))
	return hex.EncodeToString(sum[:])
}

func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// ValidName accepts a bounded plain string: no control characters and at
// most MaxNameLength runes.
func ValidName(name string) bool {
	if !utf8.ValidString(name) || utf8.RuneCountInString(name) > MaxNameLength {
		return false
	}
	return strings.IndexFunc(name, unicode.IsControl) < 0
}

func checkID(field, id string) error {
	if !ValidID(id) {
		return newError(CodeBadRequest, "invalid %s", field)
	}
	return nil
}

func checkOptionalID(field, id string) error {
	if id == "" {
		return nil
	}
	return checkID(field, id)
}
