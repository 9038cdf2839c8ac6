package worker

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

type filePart struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

// multipartCall builds a form upload with one file and optional text fields.
func multipartCall(rawURL string, header http.Header, file filePart, fields map[string]string) (outbound, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, file.field, file.filename))
	h.Set("Content-Type", file.contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return outbound{}, err
	}
	if _, err := part.Write(file.data); err != nil {
		return outbound{}, err
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, fields[k]); err != nil {
			return outbound{}, err
		}
	}
	if err := w.Close(); err != nil {
		return outbound{}, err
	}

	return outbound{
		method:      http.MethodPost,
		url:         rawURL,
		header:      header,
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	}, nil
}

// mediaType sniffs the content type of an uploaded input, falling back to def.
func mediaType(data []byte, def string) string {
	ct := http.DetectContentType(data)
	if ct == "application/octet-stream" || strings.HasPrefix(ct, "text/") {
		return def
	}
	return ct
}
