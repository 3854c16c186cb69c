package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// commandBody caps the size of a command batch and transparently inflates
// gzip-encoded bodies. The cap applies to the inflated bytes, so a small
// compressed body cannot expand past it. Broken gzip is answered with 400.
func commandBody(maxBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if isGzipped(req.Header.Get(echo.HeaderContentEncoding)) {
				gr, err := gzip.NewReader(req.Body)
				if err != nil {
					_ = req.Body.Close()
					return c.String(http.StatusBadRequest, "invalid gzip body")
				}
				req.Body = &inflatedBody{Reader: gr, raw: req.Body}
				req.ContentLength = -1
				req.Header.Del(echo.HeaderContentEncoding)
				req.Header.Del(echo.HeaderContentLength)
			}
			req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBytes)
			return next(c)
		}
	}
}

func isGzipped(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type inflatedBody struct {
	*gzip.Reader
	raw io.Closer
}

func (b *inflatedBody) Close() error {
	err := b.Reader.Close()
	if cerr := b.raw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
