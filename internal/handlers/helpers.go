package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"

	"github.com/gluk-w/termgate/internal/sshproxy"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// errorBody is the JSON shape of a failed server operation.
type errorBody struct {
	Detail string `json:"detail"`
	Kind   string `json:"kind"`
}

func newErrorBody(err error) errorBody {
	return errorBody{Detail: err.Error(), Kind: sshproxy.KindOf(err).String()}
}

// writeOpError writes err with the status its kind maps to. Rate-limited
// connects also get a Retry-After header.
func writeOpError(w http.ResponseWriter, err error) {
	var rl *sshproxy.RateLimitError
	if errors.As(err, &rl) {
		secs := int(math.Ceil(rl.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	}
	writeJSON(w, statusForError(err), newErrorBody(err))
}

// statusForError maps an sshproxy error kind to an HTTP status.
func statusForError(err error) int {
	switch sshproxy.KindOf(err) {
	case sshproxy.KindNotConnected:
		return http.StatusNotFound
	case sshproxy.KindAlreadyConnected:
		return http.StatusConflict
	case sshproxy.KindMissingCredential, sshproxy.KindKeyLoadFailed:
		return http.StatusBadRequest
	case sshproxy.KindAuthFailed:
		return http.StatusUnauthorized
	case sshproxy.KindRateLimited:
		return http.StatusTooManyRequests
	case sshproxy.KindUnreachable, sshproxy.KindNoRoute, sshproxy.KindOtherTransport,
		sshproxy.KindHostKeyRejected, sshproxy.KindChannelOpenFailed, sshproxy.KindExecFailed:
		return http.StatusBadGateway
	case sshproxy.KindTimeout:
		return http.StatusGatewayTimeout
	case sshproxy.KindTransportLost:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var errNotJSON = errors.New("Content-Type must be application/json")

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched. Bodies not labelled application/json fail with errNotJSON.
func decodeBody(r *http.Request, v interface{}) error {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != "application/json" {
		return errNotJSON
	}
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err = json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// writeDecodeError answers a decodeBody failure: 415 for a wrong content
// type, 400 for malformed JSON.
func writeDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errNotJSON) {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, "Invalid request body")
}
