package utils

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
)

// AcceptEncoding is the Accept-Encoding value sent upstream; every listed
// encoding is understood by DecompressReader.
const AcceptEncoding = "gzip, deflate, br, zstd"

// DecompressReader wraps body with a decoder matching the Content-Encoding header.
// Closing the returned reader closes body.
func DecompressReader(contentEncoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		return &decodedBody{Reader: zr, closeDecoder: zr.Close, body: body}, nil
	case "deflate":
		fr := flate.NewReader(body)
		return &decodedBody{Reader: fr, closeDecoder: fr.Close, body: body}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(body), body: body}, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return &decodedBody{Reader: zr, closeDecoder: func() error { zr.Close(); return nil }, body: body}, nil
	default:
		logrus.Warnf("Unsupported content encoding %q, passing body through", contentEncoding)
		return body, nil
	}
}

// DecompressBytes decodes a fully buffered body. On failure the input is returned unchanged.
func DecompressBytes(contentEncoding string, data []byte) []byte {
	rc, err := DecompressReader(contentEncoding, io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		logrus.Warnf("Failed to create decoder for upstream body: %v", err)
		return data
	}
	defer rc.Close()

	decoded, err := io.ReadAll(rc)
	if err != nil {
		logrus.Warnf("Failed to decompress upstream body: %v", err)
		return data
	}
	return decoded
}

type decodedBody struct {
	io.Reader
	closeDecoder func() error
	body         io.ReadCloser
}

func (d *decodedBody) Close() error {
	if d.closeDecoder != nil {
		_ = d.closeDecoder()
	}
	return d.body.Close()
}
