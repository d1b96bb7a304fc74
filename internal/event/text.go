package event

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"intercept-proxy-go/internal/model"
)

var errBodyTooLarge = errors.New("decoded body too large")

// decodeBody undoes any content coding and decodes body with the charset
// declared in header. Without a declared charset the body must be UTF-8.
// A body whose decoded form exceeds limit bytes is rejected.
func decodeBody(part string, body []byte, header model.Fields, limit int64) (string, error) {
	if len(body) == 0 {
		return "", nil
	}

	raw, err := undoContentEncoding(body, header.GetFold("Content-Encoding"), limit)
	if err != nil {
		return "", &model.EncodingError{Part: part, Err: err}
	}

	label := charsetOf(header.GetFold("Content-Type"))
	enc, err := htmlindex.Get(label)
	if err != nil {
		return "", &model.EncodingError{Part: part, Err: fmt.Errorf("unsupported charset %q", label)}
	}

	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		if !utf8.Valid(raw) {
			return "", &model.EncodingError{Part: part, Err: fmt.Errorf("invalid utf-8")}
		}
		return string(raw), nil
	}

	text, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", &model.EncodingError{Part: part, Err: err}
	}
	return string(text), nil
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return "utf-8"
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil || params["charset"] == "" {
		return "utf-8"
	}
	return params["charset"]
}

// undoContentEncoding reverses the codings listed in a Content-Encoding
// value, last applied first. No stage may produce more than limit bytes.
func undoContentEncoding(body []byte, value string, limit int64) ([]byte, error) {
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", errBodyTooLarge, limit)
	}
	if value == "" {
		return body, nil
	}
	codings := strings.Split(value, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))

		var r io.ReadCloser
		var err error
		switch coding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			r, err = gzip.NewReader(bytes.NewReader(body))
		case "deflate":
			r, err = zlib.NewReader(bytes.NewReader(body))
			if err != nil {
				// Some servers send raw deflate without the zlib wrapper.
				r, err = flate.NewReader(bytes.NewReader(body)), nil
			}
		default:
			return nil, fmt.Errorf("unsupported content encoding %q", coding)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", coding, err)
		}

		body, err = io.ReadAll(io.LimitReader(r, limit+1))
		_ = r.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", coding, err)
		}
		if int64(len(body)) > limit {
			return nil, fmt.Errorf("%s: %w: over %d bytes", coding, errBodyTooLarge, limit)
		}
	}
	return body, nil
}

// normalizeFields returns fields with every name and value as valid text.
// Bytes that are not UTF-8 are read as ISO-8859-1, the historical HTTP
// header charset.
func normalizeFields(in model.Fields) model.Fields {
	out := make(model.Fields, 0, len(in))
	for _, kv := range in {
		out.Add(toText(kv.Name), toText(kv.Value))
	}
	return out
}

func toText(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	t, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "�")
	}
	return t
}
