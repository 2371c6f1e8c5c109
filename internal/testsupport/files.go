package testsupport

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"testing"
)

// Part describes one file in a multipart job submission.
type Part struct {
	Field       string
	Filename    string
	ContentType string
	Size        int64
}

// Fill returns size bytes of a simple repeating pattern. A size <= 0 returns a
// single byte.
func Fill(size int64) []byte {
	if size <= 0 {
		size = 1
	}
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0x42
	}
	return buf
}

// MultipartBody encodes fields and file parts the way a browser upload form
// would. It returns the body and its Content-Type header value.
func MultipartBody(t testing.TB, fields map[string]string, parts ...Part) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	for _, part := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, part.Field, part.Filename))
		header.Set("Content-Type", part.ContentType)
		w, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("create part %s: %v", part.Field, err)
		}
		if _, err := w.Write(Fill(part.Size)); err != nil {
			t.Fatalf("write part %s: %v", part.Field, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

// JobParts returns a valid audio and image pair of the given size.
func JobParts(size int64) []Part {
	return []Part{
		{Field: "audio", Filename: "voice.wav", ContentType: "audio/wav", Size: size},
		{Field: "image", Filename: "face.png", ContentType: "image/png", Size: size},
	}
}
