package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/voice-turn-core/internal/booking"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// S3API is the subset of the S3 client the archiver uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// CallRecord is the archived form of a finished call. Caller text is
// scrubbed and the caller's number is kept only as a hash.
type CallRecord struct {
	Version         string    `json:"version"`
	TenantID        string    `json:"tenant_id"`
	CallID          string    `json:"call_id"`
	PhoneHash       string    `json:"phone_hash,omitempty"`
	ArchivedAt      time.Time `json:"archived_at"`
	DurationSeconds int       `json:"duration_seconds"`
	TurnCount       int       `json:"turn_count"`
	Outcome         string    `json:"outcome"`
	Tier3SpentUSD   float64   `json:"tier3_spent_usd"`
	BookingStep     string    `json:"booking_step,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	Turns           []Turn    `json:"turns"`
}

// ManifestEntry is one JSONL line of the monthly manifest.
type ManifestEntry struct {
	TenantID   string `json:"tenant_id"`
	CallID     string `json:"call_id"`
	S3Key      string `json:"s3_key"`
	Outcome    string `json:"outcome"`
	TurnCount  int    `json:"turn_count"`
	ArchivedAt string `json:"archived_at"`
}

// Outcomes recorded on archived calls.
const (
	OutcomeBooked    = "booked"
	OutcomeBooking   = "booking_abandoned"
	OutcomeEscalated = "escalated"
	OutcomeInfo      = "informational"
)

// S3Archiver writes finished calls to S3. With no bucket it is a no-op.
type S3Archiver struct {
	bucket string
	client S3API
	logger *logging.Logger
}

func NewS3Archiver(client S3API, bucket string, logger *logging.Logger) *S3Archiver {
	if logger == nil {
		logger = logging.Default()
	}
	return &S3Archiver{bucket: bucket, client: client, logger: logger}
}

// Enabled reports whether a bucket and client are configured.
func (a *S3Archiver) Enabled() bool {
	return a != nil && a.bucket != "" && a.client != nil
}

// NewCallRecord builds the archive record for m.
func NewCallRecord(m *Memory, now time.Time) *CallRecord {
	rec := &CallRecord{
		Version:         "1.0",
		TenantID:        m.TenantID,
		CallID:          m.CallID,
		ArchivedAt:      now.UTC(),
		DurationSeconds: int(now.Sub(m.StartedAt).Seconds()),
		TurnCount:       m.TurnSeq,
		Outcome:         outcome(m),
		Tier3SpentUSD:   m.Tier3SpentUSD,
		Summary:         ScrubPII(m.RollingSummary),
		Turns:           make([]Turn, len(m.History)),
	}
	if m.CallerPhone != "" {
		rec.PhoneHash = HashPhone(m.CallerPhone)
	}
	if m.Booking != nil {
		rec.BookingStep = m.Booking.CurrentStepID
	}
	for i, t := range m.History {
		t.Caller = ScrubPII(t.Caller)
		t.Agent = ScrubPII(t.Agent)
		rec.Turns[i] = t
	}
	return rec
}

func outcome(m *Memory) string {
	switch {
	case m.Booking != nil && m.Booking.CurrentStepID == booking.StepComplete:
		return OutcomeBooked
	case m.Booking != nil:
		return OutcomeBooking
	}
	for _, t := range m.History {
		if t.Source == "escalate" {
			return OutcomeEscalated
		}
	}
	return OutcomeInfo
}

// Archive writes rec and appends it to the monthly manifest. A manifest
// failure is logged, not returned.
func (a *S3Archiver) Archive(ctx context.Context, rec *CallRecord) error {
	if !a.Enabled() {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal call record: %w", err)
	}
	at := rec.ArchivedAt
	key := fmt.Sprintf("calls/v1/by-date/%d/%02d/%02d/%s/%s.json", at.Year(), at.Month(), at.Day(), rec.TenantID, rec.CallID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("session: s3 put %s: %w", key, err)
	}
	a.logger.Info("archived call to S3", "tenant_id", rec.TenantID, "call_id", rec.CallID, "s3_key", key, "outcome", rec.Outcome)

	entry := ManifestEntry{
		TenantID:   rec.TenantID,
		CallID:     rec.CallID,
		S3Key:      key,
		Outcome:    rec.Outcome,
		TurnCount:  rec.TurnCount,
		ArchivedAt: at.Format(time.RFC3339),
	}
	if err := a.appendManifest(ctx, at, entry); err != nil {
		a.logger.Warn("failed to append call manifest", "error", err, "call_id", rec.CallID)
	}
	return nil
}

// appendManifest does a read-modify-write; S3 has no append.
func (a *S3Archiver) appendManifest(ctx context.Context, at time.Time, entry ManifestEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session: marshal manifest entry: %w", err)
	}
	key := fmt.Sprintf("calls/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())

	var existing []byte
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
	switch {
	case err == nil:
		existing, err = io.ReadAll(out.Body)
		out.Body.Close()
		if err != nil {
			return fmt.Errorf("session: read manifest: %w", err)
		}
	case isNoSuchKey(err):
	default:
		return fmt.Errorf("session: get manifest: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("session: s3 put manifest: %w", err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	return errors.As(err, &nsk)
}
