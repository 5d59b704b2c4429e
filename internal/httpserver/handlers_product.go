package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kiku-jw/kikuai-gateway/internal/gateway"
)

// meteredProduct forwards a request to a product's upstream through the
// gateway pipeline: POST/GET /<product>/....
func (h *handlers) meteredProduct(w http.ResponseWriter, r *http.Request) {
	product := chi.URLParam(r, "product")

	units := int64(1)
	if raw := r.Header.Get("X-Units"); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			units = parsed
		}
	}

	h.pipeline.Handle(w, r, gateway.Request{
		Product:        product,
		Units:          units,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
}
