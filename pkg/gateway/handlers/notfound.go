package handlers

import (
	"net/http"

	"github.com/vango-go/callbridge/pkg/gateway/mw"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mw.WriteError(w, http.StatusNotFound, "Not found.")
}
