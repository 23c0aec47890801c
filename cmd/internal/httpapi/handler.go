// Package httpapi exposes courier's message operations over HTTP. Handlers
// are thin: validate, hit the store, publish the fanout event after the
// write commits.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/chat"
	"courier/cmd/internal/realtime"

	"github.com/gorilla/mux"
)

const maxUploadBytes = 10 << 20 // 10 MiB

// Handler carries the dependencies of the HTTP surface.
type Handler struct {
	log      *slog.Logger
	store    chat.Store
	engine   *realtime.Engine
	presence *realtime.Presence
	gate     auth.Gate
	blobs    BlobStorage
}

// NewHandler constructs the HTTP API handler.
func NewHandler(log *slog.Logger, store chat.Store, engine *realtime.Engine, presence *realtime.Presence, gate auth.Gate, blobs BlobStorage) *Handler {
	return &Handler{log: log, store: store, engine: engine, presence: presence, gate: gate, blobs: blobs}
}

// Register mounts the API routes. All /api/messages routes sit behind the
// authentication gate; /api/conversations is the summary projection.
func (h *Handler) Register(r *mux.Router) {
	msgs := r.PathPrefix("/api/messages").Subrouter()
	msgs.Use(h.withAuth)

	msgs.HandleFunc("/send", h.sendMessage).Methods(http.MethodPost)
	msgs.HandleFunc("/sendGroup", h.sendGroupMessage).Methods(http.MethodPost)
	msgs.HandleFunc("/sendMedia", h.sendMediaMessage).Methods(http.MethodPost)
	msgs.HandleFunc("/markRead/{wa_id}", h.markRead).Methods(http.MethodPost)
	msgs.HandleFunc("/user/{wa_id}", h.userInfo).Methods(http.MethodGet)
	msgs.HandleFunc("/{wa_id}", h.listThread).Methods(http.MethodGet)

	conv := r.PathPrefix("/api/conversations").Subrouter()
	conv.Use(h.withAuth)
	conv.HandleFunc("", h.listConversations).Methods(http.MethodGet)
}

// withAuth runs the gate before any core logic. The identity it yields is
// trusted for sender fields downstream.
func (h *Handler) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.gate.Authenticate(r)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		next.ServeHTTP(w, withCaller(r, identity))
	})
}

type sendRequest struct {
	WaID string `json:"wa_id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func (h *Handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}

	h.append(w, r, chat.AppendInput{
		WaID: req.WaID,
		From: h.sender(r, req.From),
		To:   req.To,
		Body: req.Text,
		Kind: chat.KindText,
	})
}

type sendGroupRequest struct {
	GroupID string `json:"groupId"`
	From    string `json:"from"`
	Text    string `json:"text"`
}

// sendGroupMessage is the same contract as sendMessage with the group flag
// persisted. Group existence is accepted as given.
func (h *Handler) sendGroupMessage(w http.ResponseWriter, r *http.Request) {
	var req sendGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}

	h.append(w, r, chat.AppendInput{
		WaID:    req.GroupID,
		From:    h.sender(r, req.From),
		To:      req.GroupID,
		Body:    req.Text,
		Kind:    chat.KindText,
		IsGroup: true,
	})
}

func (h *Handler) sendMediaMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid multipart form"})
		return
	}

	in := chat.AppendInput{
		WaID: r.FormValue("wa_id"),
		From: h.sender(r, r.FormValue("from")),
		To:   r.FormValue("to"),
		Body: r.FormValue("text"),
		Kind: chat.KindMedia,
	}

	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()

		url, mediaType, err := h.blobs.Store(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
		if err != nil {
			h.log.Error("media.store.fail", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "media storage failed"})
			return
		}
		in.MediaURL = url
		in.MediaType = mediaType
	}

	h.append(w, r, in)
}

// append is the shared ingestion path: durability before fanout.
func (h *Handler) append(w http.ResponseWriter, r *http.Request, in chat.AppendInput) {
	msg, err := h.store.Append(r.Context(), in)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	h.engine.Publish(realtime.Event{Kind: realtime.EventMessageNew, WaID: msg.WaID, Message: &msg})
	writeJSON(w, http.StatusCreated, msg)
}

type markReadResponse struct {
	WaID  string `json:"wa_id"`
	Count int64  `json:"count"`
}

func (h *Handler) markRead(w http.ResponseWriter, r *http.Request) {
	waID := mux.Vars(r)["wa_id"]

	count, err := h.store.BulkMarkRead(r.Context(), waID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	// One compact event per thread, and only when something changed.
	if count > 0 {
		h.engine.Publish(realtime.Event{Kind: realtime.EventThreadRead, WaID: waID, Count: count})
	}
	writeJSON(w, http.StatusOK, markReadResponse{WaID: waID, Count: count})
}

type userInfoResponse struct {
	Name     string `json:"name"`
	Number   string `json:"number"`
	Online   bool   `json:"online"`
	LastSeen string `json:"last_seen,omitempty"`
}

// userInfo combines the stored display name with live presence: whether the
// identity is connected right now, and when it last transitioned.
func (h *Handler) userInfo(w http.ResponseWriter, r *http.Request) {
	waID := mux.Vars(r)["wa_id"]

	name, err := h.store.DisplayName(r.Context(), waID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	resp := userInfoResponse{Name: name, Number: waID, Online: h.presence.Online(waID)}
	if t, ok := h.presence.LastChanged(waID); ok {
		resp.LastSeen = t.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listThread(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.store.ListByThread(r.Context(), mux.Vars(r)["wa_id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *Handler) listConversations(w http.ResponseWriter, r *http.Request) {
	sums, err := h.store.ListConversationSummaries(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, sums)
}

// sender prefers the gate-verified caller identity over the self-declared
// body field.
func (h *Handler) sender(r *http.Request, declared string) string {
	if id := callerIdentity(r); id != "" {
		return id
	}
	return strings.TrimSpace(declared)
}
