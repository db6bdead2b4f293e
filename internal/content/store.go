package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"
	"gorm.io/gorm"
)

// CompressionThreshold is the encoded size in bytes above which payloads are gzipped.
const CompressionThreshold = 600

// Flags describe how a blob payload is encoded.
type Flags int

const (
	FlagText       Flags = 1 << 0
	FlagCompressed Flags = 1 << 1
)

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// Ref identifies a stored blob.
type Ref uint

// ErrBlobNotFound is returned when a reference does not resolve to a stored blob.
var ErrBlobNotFound = eris.New("content blob not found")

// Blob is an immutable stored payload. Blobs are shared by every revision whose
// text encodes to the same bytes and are never updated or deleted.
type Blob struct {
	ID        uint   `gorm:"primaryKey"`
	Hash      string `gorm:"size:64;index:idx_blobs_hash;not null"`
	Content   []byte `gorm:"not null"`
	Flags     Flags  `gorm:"not null;default:0"`
	CreatedAt time.Time
}

// TableName defines the table name for the Blob model.
func (Blob) TableName() string {
	return "blobs"
}

// Stats summarises the blob table.
type Stats struct {
	Blobs       int64
	StoredBytes int64
}

// Store persists deduplicated text blobs.
type Store struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewStore constructs a Gorm-backed content store.
func NewStore(db *gorm.DB, logger *logrus.Logger) (*Store, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &Store{db: db, logger: logger}, nil
}

// WithTx returns a copy of the store bound to the provided transaction.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx, logger: s.logger}
}

// Store saves text and returns the reference of the blob holding it. Text that
// encodes to a payload already present yields the existing blob.
func (s *Store) Store(ctx context.Context, text string) (Ref, error) {
	payload, flags, err := encode(text)
	if err != nil {
		s.logError(logrus.Fields{"length": len(text)}, err, "encoding content blob")
		return 0, err
	}

	hash := fingerprint(payload, flags)

	var candidates []Blob
	err = s.db.WithContext(ctx).
		Where("hash = ? AND flags = ?", hash, flags).
		Order("id ASC").
		Find(&candidates).Error
	if err != nil {
		s.logError(logrus.Fields{"hash": hash}, err, "looking up content blob")
		return 0, eris.Wrapf(err, "looking up content blob: %s", hash)
	}

	for _, candidate := range candidates {
		if bytes.Equal(candidate.Content, payload) {
			return Ref(candidate.ID), nil
		}
	}

	blob := Blob{Hash: hash, Content: payload, Flags: flags}
	if err := s.db.WithContext(ctx).Create(&blob).Error; err != nil {
		s.logError(logrus.Fields{"hash": hash}, err, "inserting content blob")
		return 0, eris.Wrapf(err, "inserting content blob: %s", hash)
	}

	return Ref(blob.ID), nil
}

// Retrieve returns the text stored under ref.
func (s *Store) Retrieve(ctx context.Context, ref Ref) (string, error) {
	var blob Blob
	err := s.db.WithContext(ctx).First(&blob, uint(ref)).Error
	if err != nil {
		if eris.Is(err, gorm.ErrRecordNotFound) {
			return "", eris.Wrapf(ErrBlobNotFound, "blob %d", ref)
		}
		s.logError(logrus.Fields{"blob_id": ref}, err, "fetching content blob")
		return "", eris.Wrapf(err, "fetching content blob: %d", ref)
	}

	text, err := decode(blob.Content, blob.Flags)
	if err != nil {
		s.logError(logrus.Fields{"blob_id": ref}, err, "decoding content blob")
		return "", eris.Wrapf(err, "decoding content blob: %d", ref)
	}

	return text, nil
}

// Stats counts stored blobs and their encoded size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.WithContext(ctx).
		Model(&Blob{}).
		Select("COUNT(*) AS blobs, COALESCE(SUM(LENGTH(content)), 0) AS stored_bytes").
		Scan(&stats).Error
	if err != nil {
		s.logError(nil, err, "computing content stats")
		return Stats{}, eris.Wrap(err, "computing content stats")
	}

	return stats, nil
}

func (s *Store) logError(fields logrus.Fields, err error, message string) {
	if s.logger == nil {
		return
	}

	entry := s.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}

func encode(text string) ([]byte, Flags, error) {
	payload := []byte(text)
	flags := FlagText

	if len(payload) <= CompressionThreshold {
		return payload, flags, nil
	}

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, 0, eris.Wrap(err, "creating gzip writer")
	}
	if _, err := writer.Write(payload); err != nil {
		return nil, 0, eris.Wrap(err, "compressing payload")
	}
	if err := writer.Close(); err != nil {
		return nil, 0, eris.Wrap(err, "flushing gzip writer")
	}

	return buf.Bytes(), flags | FlagCompressed, nil
}

func decode(payload []byte, flags Flags) (string, error) {
	raw := payload
	if flags.Has(FlagCompressed) {
		reader, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return "", eris.Wrap(err, "opening gzip payload")
		}
		defer reader.Close()

		raw, err = io.ReadAll(reader)
		if err != nil {
			return "", eris.Wrap(err, "decompressing payload")
		}
	}

	if flags.Has(FlagText) && utf8.Valid(raw) {
		return string(raw), nil
	}

	// Legacy payloads are read one byte per character.
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return "", eris.Wrap(err, "decoding latin-1 payload")
	}

	return string(decoded), nil
}

func fingerprint(payload []byte, flags Flags) string {
	sum := sha256.New()
	sum.Write(payload)
	sum.Write([]byte{0})
	sum.Write([]byte(strconv.FormatBool(flags.Has(FlagCompressed))))
	return hex.EncodeToString(sum.Sum(nil))
}
