// Package mongodb implements the raw-source archive on MongoDB.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"finanzas/core/domain"
	"finanzas/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionMessages = "raw_messages"
	collectionPDFs     = "raw_pdfs"

	// Bodies smaller than this are stored as-is.
	compressionThreshold = 1024
)

// ArchiveAdapter implements out.RawArchive. Message bodies and statement
// PDFs are kept so parse failures can be sampled and batches reprocessed
// without refetching from the mail provider.
type ArchiveAdapter struct {
	messages *mongo.Collection
	pdfs     *mongo.Collection
}

func NewArchiveAdapter(db *mongo.Database) *ArchiveAdapter {
	return &ArchiveAdapter{
		messages: db.Collection(collectionMessages),
		pdfs:     db.Collection(collectionPDFs),
	}
}

// EnsureIndexes creates the lookup indexes for both collections.
func (a *ArchiveAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "profile_id", Value: 1}, {Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "archived_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}

	_, err = a.pdfs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "profile_id", Value: 1}, {Key: "filename", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	if err != nil {
		return fmt.Errorf("create pdf indexes: %w", err)
	}
	return nil
}

type messageDocument struct {
	ProfileID   string    `bson:"profile_id"`
	MessageID   string    `bson:"message_id"`
	Subject     string    `bson:"subject"`
	FromAddress string    `bson:"from_address"`
	ReceivedAt  time.Time `bson:"received_at"`
	ContentType string    `bson:"content_type"`

	Body         []byte `bson:"body"`
	IsCompressed bool   `bson:"is_compressed"`
	OriginalSize int64  `bson:"original_size"`

	Attachments []attachmentDocument `bson:"attachments,omitempty"`
	ArchivedAt  time.Time            `bson:"archived_at"`
}

type attachmentDocument struct {
	ID       string `bson:"id"`
	Filename string `bson:"filename"`
	MimeType string `bson:"mime_type"`
	Size     int64  `bson:"size"`
}

type pdfDocument struct {
	ProfileID  string    `bson:"profile_id"`
	Filename   string    `bson:"filename"`
	Data       []byte    `bson:"data"`
	Size       int64     `bson:"size"`
	ArchivedAt time.Time `bson:"archived_at"`
}

func (a *ArchiveAdapter) SaveMessage(ctx context.Context, profileID string, msg *domain.RawMessage) error {
	body := []byte(msg.Body)
	originalSize := int64(len(body))

	isCompressed := false
	if originalSize > compressionThreshold {
		compressed, err := gzipBytes(body)
		if err != nil {
			return fmt.Errorf("compress message body: %w", err)
		}
		body = compressed
		isCompressed = true
	}

	attachments := make([]attachmentDocument, len(msg.Attachments))
	for i, att := range msg.Attachments {
		attachments[i] = attachmentDocument{
			ID:       att.ID,
			Filename: att.Filename,
			MimeType: att.MimeType,
			Size:     att.Size,
		}
	}

	doc := messageDocument{
		ProfileID:    profileID,
		MessageID:    msg.ID,
		Subject:      msg.Subject,
		FromAddress:  msg.FromAddress,
		ReceivedAt:   msg.ReceivedAt,
		ContentType:  msg.ContentType,
		Body:         body,
		IsCompressed: isCompressed,
		OriginalSize: originalSize,
		Attachments:  attachments,
		ArchivedAt:   time.Now(),
	}

	filter := bson.M{"profile_id": profileID, "message_id": msg.ID}
	opts := options.Replace().SetUpsert(true)
	if _, err := a.messages.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

func (a *ArchiveAdapter) GetMessage(ctx context.Context, profileID, messageID string) (*domain.RawMessage, error) {
	var doc messageDocument
	filter := bson.M{"profile_id": profileID, "message_id": messageID}

	err := a.messages.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}

	body := doc.Body
	if doc.IsCompressed {
		body, err = gunzipBytes(doc.Body)
		if err != nil {
			return nil, fmt.Errorf("decompress message body: %w", err)
		}
	}

	attachments := make([]domain.RawAttachment, len(doc.Attachments))
	for i, att := range doc.Attachments {
		attachments[i] = domain.RawAttachment{
			ID:       att.ID,
			Filename: att.Filename,
			MimeType: att.MimeType,
			Size:     att.Size,
		}
	}

	return &domain.RawMessage{
		ID:          doc.MessageID,
		Subject:     doc.Subject,
		FromAddress: doc.FromAddress,
		ReceivedAt:  doc.ReceivedAt,
		ContentType: doc.ContentType,
		Body:        string(body),
		Attachments: attachments,
	}, nil
}

// SavePDF stores the statement bytes as-is. PDFs are already compressed
// internally, gzip buys nothing.
func (a *ArchiveAdapter) SavePDF(ctx context.Context, profileID, filename string, data []byte) error {
	doc := pdfDocument{
		ProfileID:  profileID,
		Filename:   filename,
		Data:       data,
		Size:       int64(len(data)),
		ArchivedAt: time.Now(),
	}

	filter := bson.M{"profile_id": profileID, "filename": filename}
	opts := options.Replace().SetUpsert(true)
	if _, err := a.pdfs.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("save pdf: %w", err)
	}
	return nil
}

func (a *ArchiveAdapter) GetPDF(ctx context.Context, profileID, filename string) ([]byte, error) {
	var doc pdfDocument
	filter := bson.M{"profile_id": profileID, "filename": filename}

	err := a.pdfs.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("get pdf: %w", err)
	}
	return doc.Data, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

var _ out.RawArchive = (*ArchiveAdapter)(nil)
