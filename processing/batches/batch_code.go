package batches

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// CropPrefix returns the first three letters of crop upper-cased, padded
// with X when the crop name is shorter.
func CropPrefix(crop string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(crop) {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			continue
		}
		b.WriteRune(r)
		if b.Len() == 3 {
			break
		}
	}
	for b.Len() < 3 {
		b.WriteByte('X')
	}
	return b.String()
}

// PrimaryCode is {CROP3}{yyyymmdd}{lotNo}.
func PrimaryCode(crop, lotNo string, at time.Time) string {
	return CropPrefix(crop) + at.Format("20060102") + sanitizeLot(lotNo)
}

// FallbackCode is PBC-{CROP3}-{lot}-{yyyymmdd}-{suffix}.
func FallbackCode(crop, lotNo string, at time.Time, suffix string) string {
	return fmt.Sprintf("PBC-%s-%s-%s-%s", CropPrefix(crop), sanitizeLot(lotNo), at.Format("20060102"), suffix)
}

func randomSuffix() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:5])
}

// defaultCodeSource proposes the primary code first and random fallbacks after.
func defaultCodeSource(crop, lotNo string, at time.Time, attempt int) string {
	if attempt == 0 {
		return PrimaryCode(crop, lotNo, at)
	}
	return FallbackCode(crop, lotNo, at, randomSuffix())
}

func sanitizeLot(lotNo string) string {
	return strings.ToUpper(strings.Join(strings.Fields(lotNo), ""))
}
