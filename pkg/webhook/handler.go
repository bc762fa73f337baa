package webhook

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// Handler serves the CRD conversion endpoint. Every POST is answered with a
// well-formed ConversionReview, including requests that could not be decoded.
type Handler struct {
	converter    *Converter
	log          logr.Logger
	maxBodyBytes int64
}

// NewHandler returns a Handler. A maxBodyBytes of zero disables the body limit.
func NewHandler(converter *Converter, log logr.Logger, maxBodyBytes int64) *Handler {
	return &Handler{
		converter:    converter,
		log:          log,
		maxBodyBytes: maxBodyBytes,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	req, err := h.decode(w, r)
	var resp *apiextensionsv1.ConversionResponse
	if err != nil {
		var uid types.UID
		if req != nil {
			uid = req.UID
		}
		h.log.Info("Rejected conversion review", "uid", uid, "reason", ReasonInvalidRequest, "error", err.Error())
		resp = Failure(uid, ReasonInvalidRequest, err.Error(), nil)
		h.converter.recorder.ObserveConversion(metav1.StatusFailure, ReasonInvalidRequest, 0, time.Since(start))
	} else {
		resp = h.converter.Convert(r.Context(), req)
	}

	h.write(w, resp)
}

// decode reads the review from the body. On a validation failure it still
// returns whatever request was decoded so the uid can be echoed.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*apiextensionsv1.ConversionRequest, error) {
	body := r.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrInvalidRequest, err)
	}

	var review apiextensionsv1.ConversionReview
	if err := json.Unmarshal(data, &review); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	req := review.Request
	switch {
	case req == nil:
		return nil, fmt.Errorf("%w: request is missing", ErrInvalidRequest)
	case req.UID == "":
		return req, fmt.Errorf("%w: request.uid is required", ErrInvalidRequest)
	case req.DesiredAPIVersion == "":
		return req, fmt.Errorf("%w: request.desiredAPIVersion is required", ErrInvalidRequest)
	}
	return req, nil
}

func (h *Handler) write(w http.ResponseWriter, resp *apiextensionsv1.ConversionResponse) {
	review := apiextensionsv1.ConversionReview{
		TypeMeta: metav1.TypeMeta{
			APIVersion: apiextensionsv1.SchemeGroupVersion.String(),
			Kind:       "ConversionReview",
		},
		Response: resp,
	}

	respBytes, err := json.Marshal(review)
	if err != nil {
		h.log.Error(err, "Failed to encode conversion review", "uid", resp.UID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(respBytes); err != nil {
		h.log.V(1).Info("Failed to write conversion review", "uid", resp.UID, "error", err.Error())
	}
}
