package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/telhawk-systems/logistics-bridge/common/events"
	"github.com/telhawk-systems/logistics-bridge/logistics/internal/capture"
)

// Multipart part names of a confirmation upload.
const (
	PartMetadata  = "metadata"
	PartPhoto     = "photo"
	PartSignature = "signature"

	// HeaderIdempotencyKey carries the capture local ID.
	HeaderIdempotencyKey = "Idempotency-Key"

	// MaxUploadBytes bounds one confirmation upload.
	MaxUploadBytes = 32 << 20
)

// Metadata is the JSON part of a confirmation upload.
type Metadata struct {
	LocalID     string           `json:"local_id"`
	ReceivedBy  string           `json:"received_by"`
	DeliveredAt time.Time        `json:"delivered_at"`
	CapturedAt  time.Time        `json:"captured_at"`
	Location    *events.GeoPoint `json:"location,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// Form is a decoded confirmation upload.
type Form struct {
	Metadata
	Photos    []capture.Attachment
	Signature *capture.Attachment
}

// EncodeRecord writes rec as a multipart body and returns it with its
// content type.
func EncodeRecord(rec capture.Record) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	meta, err := json.Marshal(Metadata{
		LocalID:     rec.LocalID,
		ReceivedBy:  rec.Payload.ReceivedBy,
		DeliveredAt: rec.Payload.DeliveredAt,
		CapturedAt:  rec.CapturedAt,
		Location:    rec.Payload.Location,
		Notes:       rec.Payload.Notes,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writePart(mw, PartMetadata, "", "application/json", meta); err != nil {
		return nil, "", err
	}
	for _, p := range rec.Payload.Photos {
		if err := writePart(mw, PartPhoto, p.Name, p.ContentType, p.Data); err != nil {
			return nil, "", err
		}
	}
	if sig := rec.Payload.Signature; sig != nil {
		if err := writePart(mw, PartSignature, sig.Name, sig.ContentType, sig.Data); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart body: %w", err)
	}
	return body, mw.FormDataContentType(), nil
}

func writePart(mw *multipart.Writer, field, filename, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	disposition := fmt.Sprintf(`form-data; name=%q`, field)
	if filename != "" {
		disposition += fmt.Sprintf(`; filename=%q`, filename)
	}
	h.Set("Content-Disposition", disposition)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	w, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("failed to create %s part: %w", field, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s part: %w", field, err)
	}
	return nil
}

// DecodeForm reads a confirmation upload from r.
func DecodeForm(w http.ResponseWriter, r *http.Request) (Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		return Form{}, fmt.Errorf("expected multipart body: %w", err)
	}

	var form Form
	var sawMetadata bool
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Form{}, fmt.Errorf("failed to read part: %w", err)
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return Form{}, fmt.Errorf("failed to read %s part: %w", part.FormName(), err)
		}

		switch part.FormName() {
		case PartMetadata:
			if err := json.Unmarshal(data, &form.Metadata); err != nil {
				return Form{}, fmt.Errorf("invalid metadata: %w", err)
			}
			sawMetadata = true
		case PartPhoto:
			form.Photos = append(form.Photos, capture.Attachment{
				Name: part.FileName(), ContentType: part.Header.Get("Content-Type"), Data: data,
			})
		case PartSignature:
			form.Signature = &capture.Attachment{
				Name: part.FileName(), ContentType: part.Header.Get("Content-Type"), Data: data,
			}
		}
	}

	if !sawMetadata {
		return Form{}, fmt.Errorf("missing %s part", PartMetadata)
	}
	if form.LocalID == "" {
		form.LocalID = r.Header.Get(HeaderIdempotencyKey)
	}
	if form.LocalID == "" {
		return Form{}, fmt.Errorf("local_id is required")
	}
	if form.ReceivedBy == "" {
		return Form{}, fmt.Errorf("received_by is required")
	}
	return form, nil
}
